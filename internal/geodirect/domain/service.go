package domain

import "context"

type CreateGeodirectRequest struct {
	ShopID  int64
	Country string
	URL     string
	Message string
}

// UpdateGeodirectRequest is a partial edit; nil fields keep their stored
// value. The service carries the revision it read, so a concurrent edit
// surfaces as a conflict the caller may retry with fresh state.
type UpdateGeodirectRequest struct {
	ShopID  int64
	ID      string
	Country *string
	URL     *string
	Message *string
	Hits    *int64
}

type Service interface {
	Create(ctx context.Context, req CreateGeodirectRequest) (Geodirect, error)
	Get(ctx context.Context, shopID int64, id string) (Geodirect, error)
	List(ctx context.Context, shopID int64) ([]Geodirect, error)
	Update(ctx context.Context, req UpdateGeodirectRequest) (Geodirect, error)
	Delete(ctx context.Context, shopID int64, id string) error
}
