package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/geodirect/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		log:  p.Log.Named("geodirect.service"),
		repo: p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateGeodirectRequest) (domain.Geodirect, error) {
	if req.ShopID == 0 {
		return domain.Geodirect{}, domain.ErrInvalidShop
	}

	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if len(country) != 2 {
		return domain.Geodirect{}, domain.ErrInvalidCountry
	}

	target := strings.TrimSpace(req.URL)
	if target == "" {
		return domain.Geodirect{}, domain.ErrInvalidURL
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return domain.Geodirect{}, domain.ErrInvalidMessage
	}

	geo := domain.Geodirect{
		ShopID:  req.ShopID,
		Country: country,
		URL:     target,
		Message: message,
	}
	if err := s.repo.Insert(ctx, &geo); err != nil {
		return domain.Geodirect{}, err
	}

	return geo, nil
}

// Get fetches one rule. A rule belonging to another shop is reported as
// not found rather than leaking its existence.
func (s *Service) Get(ctx context.Context, shopID int64, id string) (domain.Geodirect, error) {
	geo, err := s.owned(ctx, shopID, id)
	if err != nil {
		return domain.Geodirect{}, err
	}
	return *geo, nil
}

func (s *Service) List(ctx context.Context, shopID int64) ([]domain.Geodirect, error) {
	if shopID == 0 {
		return nil, domain.ErrInvalidShop
	}
	return s.repo.ListByShop(ctx, shopID)
}

// Update reads the current document and writes back the merged edit with
// the revision it read. A concurrent edit between the read and the write
// surfaces as couchdb.ErrConflict; retrying with fresh state is the
// caller's decision, never done here.
func (s *Service) Update(ctx context.Context, req domain.UpdateGeodirectRequest) (domain.Geodirect, error) {
	geo, err := s.owned(ctx, req.ShopID, req.ID)
	if err != nil {
		return domain.Geodirect{}, err
	}

	if req.Country != nil {
		country := strings.ToUpper(strings.TrimSpace(*req.Country))
		if len(country) != 2 {
			return domain.Geodirect{}, domain.ErrInvalidCountry
		}
		geo.Country = country
	}
	if req.URL != nil {
		target := strings.TrimSpace(*req.URL)
		if target == "" {
			return domain.Geodirect{}, domain.ErrInvalidURL
		}
		geo.URL = target
	}
	if req.Message != nil {
		message := strings.TrimSpace(*req.Message)
		if message == "" {
			return domain.Geodirect{}, domain.ErrInvalidMessage
		}
		geo.Message = message
	}
	if req.Hits != nil {
		geo.Hits = *req.Hits
	}

	if err := s.repo.Update(ctx, geo); err != nil {
		return domain.Geodirect{}, err
	}

	return *geo, nil
}

// Delete removes a rule using the revision read just before. The prompt
// log keeps its LoggedPrompt references; log records are never cleaned up
// when a rule goes away.
func (s *Service) Delete(ctx context.Context, shopID int64, id string) error {
	geo, err := s.owned(ctx, shopID, id)
	if err != nil {
		return err
	}

	return s.repo.Delete(ctx, geo.ID, geo.Rev)
}

func (s *Service) owned(ctx context.Context, shopID int64, id string) (*domain.Geodirect, error) {
	if shopID == 0 {
		return nil, domain.ErrInvalidShop
	}

	geo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if geo.ShopID != shopID {
		return nil, couchdb.ErrNotFound
	}

	return geo, nil
}
