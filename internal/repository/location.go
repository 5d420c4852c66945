package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// LocationRepository persists canonical Location rows and LocationSource
// observations. Spatial candidate lookup uses a bounding-box pre-filter —
// exact tolerance comparison happens in the caller (Reconciler), since the
// tolerance is expressed as a coordinate-space delta, not a DB function
// (spec §4.G.2).
type LocationRepository interface {
	Create(ctx context.Context, loc *model.Location) error
	Update(ctx context.Context, loc *model.Location) error
	Get(ctx context.Context, id uuid.UUID) (*model.Location, error)
	FindCandidatesNear(ctx context.Context, lat, lon, box float64) ([]model.Location, error)
	FindByExternalIdentifier(ctx context.Context, externalID string) (*model.Location, error)
	FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]model.Location, error)

	UpsertSource(ctx context.Context, src *model.LocationSource) error
	SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.LocationSource, error)
}

type gormLocationRepository struct {
	db *gorm.DB
}

// NewLocationRepository returns a gorm-backed LocationRepository.
func NewLocationRepository(db *gorm.DB) LocationRepository {
	return &gormLocationRepository{db: db}
}

func (r *gormLocationRepository) Create(ctx context.Context, loc *model.Location) error {
	if err := r.db.WithContext(ctx).Create(loc).Error; err != nil {
		return fmt.Errorf("location: create: %w", err)
	}
	return nil
}

func (r *gormLocationRepository) Update(ctx context.Context, loc *model.Location) error {
	if err := r.db.WithContext(ctx).Save(loc).Error; err != nil {
		return fmt.Errorf("location: update: %w", err)
	}
	return nil
}

func (r *gormLocationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Location, error) {
	var loc model.Location
	if err := r.db.WithContext(ctx).First(&loc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("location: get: %w", err)
	}
	return &loc, nil
}

// FindCandidatesNear returns canonical locations within a degree-space
// bounding box of (lat, lon); box is expressed in the same units as
// location_coord_tolerance so callers can over-fetch and then apply the
// exact tolerance check themselves.
func (r *gormLocationRepository) FindCandidatesNear(ctx context.Context, lat, lon, box float64) ([]model.Location, error) {
	var locs []model.Location
	err := r.db.WithContext(ctx).
		Where("is_canonical = ?", true).
		Where("latitude BETWEEN ? AND ?", lat-box, lat+box).
		Where("longitude BETWEEN ? AND ?", lon-box, lon+box).
		Find(&locs).Error
	if err != nil {
		return nil, fmt.Errorf("location: find candidates near: %w", err)
	}
	return locs, nil
}

func (r *gormLocationRepository) FindByExternalIdentifier(ctx context.Context, externalID string) (*model.Location, error) {
	var loc model.Location
	err := r.db.WithContext(ctx).
		Where("external_identifier = ? AND external_identifier != '' AND is_canonical = ?", externalID, true).
		First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("location: find by external identifier: %w", err)
	}
	return &loc, nil
}

// FindByOrganization returns every canonical location belonging to orgID,
// used by the Reconciler to proximity-test an Organization match candidate
// against the new submission's locations (spec §4.G.2).
func (r *gormLocationRepository) FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]model.Location, error) {
	var locs []model.Location
	if err := r.db.WithContext(ctx).Where("organization_id = ? AND is_canonical = ?", orgID, true).Find(&locs).Error; err != nil {
		return nil, fmt.Errorf("location: find by organization: %w", err)
	}
	return locs, nil
}

func (r *gormLocationRepository) UpsertSource(ctx context.Context, src *model.LocationSource) error {
	err := r.db.WithContext(ctx).
		Where("canonical_id = ? AND scraper_id = ?", src.CanonicalID, src.ScraperID).
		Assign(src).
		FirstOrCreate(src).Error
	if err != nil {
		return fmt.Errorf("location: upsert source: %w", err)
	}
	return nil
}

func (r *gormLocationRepository) SourcesForCanonical(ctx context.Context, canonicalID uuid.UUID) ([]model.LocationSource, error) {
	var srcs []model.LocationSource
	if err := r.db.WithContext(ctx).Where("canonical_id = ?", canonicalID).Find(&srcs).Error; err != nil {
		return nil, fmt.Errorf("location: sources for canonical: %w", err)
	}
	return srcs, nil
}
