package domain

import "context"

type Repository interface {
	Insert(ctx context.Context, geo *Geodirect) error
	FindByID(ctx context.Context, id string) (*Geodirect, error)
	ListByShop(ctx context.Context, shopID int64) ([]Geodirect, error)
	Update(ctx context.Context, geo *Geodirect) error
	Delete(ctx context.Context, id, rev string) error
}
