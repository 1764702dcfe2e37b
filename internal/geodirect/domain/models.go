package domain

import (
	"errors"

	"github.com/smallbiznis/geodirect/internal/couchdb"
)

// DatabaseName is the shared database holding every tenant's redirect rules.
const DatabaseName = "geodirect_geodirections"

// IndexedFields are the fields the rules database keeps a mango index on.
var IndexedFields = []string{"shop_id"}

// Geodirect is one tenant-owned redirect rule. Hits is denormalized and
// advisory only; authoritative counts come from the prompt log aggregation.
type Geodirect struct {
	couchdb.Meta
	ShopID  int64  `json:"shop_id"`
	Country string `json:"country"`
	URL     string `json:"url"`
	Message string `json:"message"`
	Hits    int64  `json:"hits,omitempty"`
}

var (
	ErrInvalidShop    = errors.New("invalid_shop")
	ErrInvalidCountry = errors.New("invalid_country")
	ErrInvalidURL     = errors.New("invalid_url")
	ErrInvalidMessage = errors.New("invalid_message")
)
