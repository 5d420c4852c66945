package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// ServiceRepository persists canonical Service rows and ServiceSource
// observations, matched within a single canonical organization by
// (organization_id, name) (spec §4.G.2).
type ServiceRepository interface {
	Create(ctx context.Context, svc *model.Service) error
	Update(ctx context.Context, svc *model.Service) error
	Get(ctx context.Context, id uuid.UUID) (*model.Service, error)
	FindByOrgAndName(ctx context.Context, orgID uuid.UUID, name string) (*model.Service, error)

	UpsertSource(ctx context.Context, src *model.ServiceSource) error
	SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.ServiceSource, error)

	LinkLocation(ctx context.Context, serviceID, locationID uuid.UUID) error
}

type gormServiceRepository struct {
	db *gorm.DB
}

// NewServiceRepository returns a gorm-backed ServiceRepository.
func NewServiceRepository(db *gorm.DB) ServiceRepository {
	return &gormServiceRepository{db: db}
}

func (r *gormServiceRepository) Create(ctx context.Context, svc *model.Service) error {
	if err := r.db.WithContext(ctx).Create(svc).Error; err != nil {
		return fmt.Errorf("service: create: %w", err)
	}
	return nil
}

func (r *gormServiceRepository) Update(ctx context.Context, svc *model.Service) error {
	if err := r.db.WithContext(ctx).Save(svc).Error; err != nil {
		return fmt.Errorf("service: update: %w", err)
	}
	return nil
}

func (r *gormServiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var svc model.Service
	if err := r.db.WithContext(ctx).First(&svc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: get: %w", err)
	}
	return &svc, nil
}

func (r *gormServiceRepository) FindByOrgAndName(ctx context.Context, orgID uuid.UUID, name string) (*model.Service, error) {
	var svc model.Service
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND name = ? AND is_canonical = ?", orgID, name, true).
		First(&svc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: find by org and name: %w", err)
	}
	return &svc, nil
}

func (r *gormServiceRepository) UpsertSource(ctx context.Context, src *model.ServiceSource) error {
	err := r.db.WithContext(ctx).
		Where("canonical_id = ? AND scraper_id = ?", src.CanonicalID, src.ScraperID).
		Assign(src).
		FirstOrCreate(src).Error
	if err != nil {
		return fmt.Errorf("service: upsert source: %w", err)
	}
	return nil
}

func (r *gormServiceRepository) SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.ServiceSource, error) {
	var srcs []model.ServiceSource
	if err := r.db.WithContext(ctx).Where("canonical_id = ?", canonicalID).Find(&srcs).Error; err != nil {
		return nil, fmt.Errorf("service: sources for canonical: %w", err)
	}
	return srcs, nil
}

func (r *gormServiceRepository) LinkLocation(ctx context.Context, serviceID, locationID uuid.UUID) error {
	link := model.ServiceAtLocation{ServiceID: serviceID, LocationID: locationID}
	err := r.db.WithContext(ctx).
		Where("service_id = ? AND location_id = ?", serviceID, locationID).
		FirstOrCreate(&link).Error
	if err != nil {
		return fmt.Errorf("service: link location: %w", err)
	}
	return nil
}
