package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/geodirect/internal/couchdb"
)

// LoggedPrompt is one append-only record of a rule trigger. It references
// the rule and the rule's revision at trigger time for auditability; it is
// never updated or deleted afterwards.
type LoggedPrompt struct {
	couchdb.Meta
	GeodirectID  string `json:"geodirect_id"`
	GeodirectRev string `json:"geodirect_rev"`
	ShopID       int64  `json:"shop_id"`
	Timestamp    int64  `json:"timestamp"`
}

type AppendRequest struct {
	ShopID       int64
	GeodirectID  string
	GeodirectRev string
}

// Manager provides tenant-scoped access to the per-shop prompt log
// databases.
type Manager interface {
	Prepare(ctx context.Context, shopID int64) error
	Append(ctx context.Context, req AppendRequest) (LoggedPrompt, error)
	CountSince(ctx context.Context, shopID int64, since int64) (int64, error)
	CountByGeodirect(ctx context.Context, shopID int64) (map[string]int64, error)
}

var (
	ErrInvalidShop      = errors.New("invalid_shop")
	ErrInvalidGeodirect = errors.New("invalid_geodirect")
)

// DatabaseName derives the log database name for a shop. Pure; provisioning
// happens in Prepare.
func DatabaseName(shopID int64) string {
	return fmt.Sprintf("geodirect_shop_%d_logs", shopID)
}
