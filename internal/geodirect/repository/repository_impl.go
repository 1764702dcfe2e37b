package repository

import (
	"context"

	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/geodirect/domain"
)

type repo struct {
	db *couchdb.Database
}

func Provide(client *couchdb.Client) domain.Repository {
	return &repo{db: client.DB(domain.DatabaseName)}
}

func (r *repo) Insert(ctx context.Context, geo *domain.Geodirect) error {
	return r.db.Create(ctx, geo)
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.Geodirect, error) {
	var geo domain.Geodirect
	if err := r.db.Get(ctx, id, "", &geo); err != nil {
		return nil, err
	}
	return &geo, nil
}

func (r *repo) ListByShop(ctx context.Context, shopID int64) ([]domain.Geodirect, error) {
	var list []domain.Geodirect
	err := r.db.Find(ctx, couchdb.FindRequest{
		Selector: map[string]any{"shop_id": shopID},
	}, &list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repo) Update(ctx context.Context, geo *domain.Geodirect) error {
	return r.db.Update(ctx, geo.ID, geo, geo.Rev)
}

func (r *repo) Delete(ctx context.Context, id, rev string) error {
	return r.db.Delete(ctx, id, rev)
}
