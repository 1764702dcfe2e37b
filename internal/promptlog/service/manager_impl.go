package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/geodirect/internal/clock"
	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/promptlog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Client *couchdb.Client
	Log    *zap.Logger
	Clock  clock.Clock
}

type Manager struct {
	client *couchdb.Client
	log    *zap.Logger
	clock  clock.Clock
}

func New(p Params) domain.Manager {
	return &Manager{
		client: p.Client,
		log:    p.Log.Named("promptlog"),
		clock:  p.Clock,
	}
}

// Prepare provisions the shop's log database and synchronizes its views.
// Safe to call any number of times; an existing database is success.
func (m *Manager) Prepare(ctx context.Context, shopID int64) error {
	if shopID == 0 {
		return domain.ErrInvalidShop
	}

	name := domain.DatabaseName(shopID)
	if err := m.client.EnsureDatabase(ctx, name); err != nil {
		return err
	}

	m.client.EnsureViews(ctx, name, domain.ViewDefinitions())

	return nil
}

// Append records one rule trigger. The timestamp is stamped here, at
// receipt time, not taken from the caller. No cached counter is updated;
// counts always come from the aggregation views.
func (m *Manager) Append(ctx context.Context, req domain.AppendRequest) (domain.LoggedPrompt, error) {
	if req.ShopID == 0 {
		return domain.LoggedPrompt{}, domain.ErrInvalidShop
	}
	if req.GeodirectID == "" {
		return domain.LoggedPrompt{}, domain.ErrInvalidGeodirect
	}

	now := m.clock.Now()
	prompt := domain.LoggedPrompt{
		GeodirectID:  req.GeodirectID,
		GeodirectRev: req.GeodirectRev,
		ShopID:       req.ShopID,
		Timestamp:    now.UnixMilli(),
	}
	// ULIDs sort by creation time, keeping appends on the right edge of
	// the database's b-tree. Seeded from the injected clock so id order
	// always agrees with the timestamp field.
	prompt.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	db := m.client.DB(domain.DatabaseName(req.ShopID))
	if err := db.Create(ctx, &prompt); err != nil {
		return domain.LoggedPrompt{}, err
	}

	return prompt, nil
}

// CountSince counts the shop's logged prompts with timestamp >= since
// (epoch milliseconds) through the reduced count-by-timestamp view.
func (m *Manager) CountSince(ctx context.Context, shopID int64, since int64) (int64, error) {
	if shopID == 0 {
		return 0, domain.ErrInvalidShop
	}

	db := m.client.DB(domain.DatabaseName(shopID))
	res, err := db.ReducedView(ctx, domain.DesignDocName, domain.CountByTimestampView, couchdb.ViewOptions{
		StartKey: since,
	})
	if err != nil {
		return 0, err
	}

	if len(res.Rows) == 0 {
		return 0, nil
	}

	var count float64
	if err := json.Unmarshal(res.Rows[0].Value, &count); err != nil {
		return 0, fmt.Errorf("promptlog: decoding reduced count: %w", err)
	}

	return int64(count), nil
}

// CountByGeodirect returns all-time trigger counts per rule id. The view is
// queried reduced and ungrouped, so the whole answer arrives as a single
// collapsed mapping row.
func (m *Manager) CountByGeodirect(ctx context.Context, shopID int64) (map[string]int64, error) {
	if shopID == 0 {
		return nil, domain.ErrInvalidShop
	}

	db := m.client.DB(domain.DatabaseName(shopID))
	res, err := db.ReducedView(ctx, domain.DesignDocName, domain.CountByGeodirectView, couchdb.ViewOptions{})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	if len(res.Rows) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(res.Rows[0].Value, &counts); err != nil {
		return nil, fmt.Errorf("promptlog: decoding per-rule counts: %w", err)
	}

	return counts, nil
}
