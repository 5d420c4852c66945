package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// OrganizationRepository persists canonical Organization rows and their
// per-scraper OrganizationSource observations (spec §3.3, §4.G).
type OrganizationRepository interface {
	Create(ctx context.Context, org *model.Organization) error
	Update(ctx context.Context, org *model.Organization) error
	Get(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	// FindCandidatesByNormalizedName returns canonical organizations sharing
	// normalized_name, for the caller to proximity-filter (spec §4.G.2).
	FindCandidatesByNormalizedName(ctx context.Context, normalizedName string) ([]model.Organization, error)

	UpsertSource(ctx context.Context, src *model.OrganizationSource) error
	SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.OrganizationSource, error)
}

type gormOrganizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository returns a gorm-backed OrganizationRepository.
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &gormOrganizationRepository{db: db}
}

func (r *gormOrganizationRepository) Create(ctx context.Context, org *model.Organization) error {
	if err := r.db.WithContext(ctx).Create(org).Error; err != nil {
		return fmt.Errorf("organization: create: %w", err)
	}
	return nil
}

func (r *gormOrganizationRepository) Update(ctx context.Context, org *model.Organization) error {
	if err := r.db.WithContext(ctx).Save(org).Error; err != nil {
		return fmt.Errorf("organization: update: %w", err)
	}
	return nil
}

func (r *gormOrganizationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organization: get: %w", err)
	}
	return &org, nil
}

func (r *gormOrganizationRepository) FindCandidatesByNormalizedName(ctx context.Context, normalizedName string) ([]model.Organization, error) {
	var orgs []model.Organization
	if err := r.db.WithContext(ctx).
		Where("normalized_name = ? AND is_canonical = ?", normalizedName, true).
		Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("organization: find candidates: %w", err)
	}
	return orgs, nil
}

func (r *gormOrganizationRepository) UpsertSource(ctx context.Context, src *model.OrganizationSource) error {
	err := r.db.WithContext(ctx).
		Where("canonical_id = ? AND scraper_id = ?", src.CanonicalID, src.ScraperID).
		Assign(src).
		FirstOrCreate(src).Error
	if err != nil {
		return fmt.Errorf("organization: upsert source: %w", err)
	}
	return nil
}

func (r *gormOrganizationRepository) SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.OrganizationSource, error) {
	var srcs []model.OrganizationSource
	if err := r.db.WithContext(ctx).Where("canonical_id = ?", canonicalID).Find(&srcs).Error; err != nil {
		return nil, fmt.Errorf("organization: sources for canonical: %w", err)
	}
	return srcs, nil
}
