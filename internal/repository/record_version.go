package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// RecordVersionRepository appends version snapshots and answers "what's the
// latest version for this record" (spec §3.4).
type RecordVersionRepository interface {
	Append(ctx context.Context, v *model.RecordVersion) error
	Latest(ctx context.Context, recordID string) (*model.RecordVersion, error)
	History(ctx context.Context, recordID string) ([]model.RecordVersion, error)
}

type gormRecordVersionRepository struct {
	db *gorm.DB
}

// NewRecordVersionRepository returns a gorm-backed RecordVersionRepository.
func NewRecordVersionRepository(db *gorm.DB) RecordVersionRepository {
	return &gormRecordVersionRepository{db: db}
}

func (r *gormRecordVersionRepository) Append(ctx context.Context, v *model.RecordVersion) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("record_version: append: %w", err)
	}
	return nil
}

func (r *gormRecordVersionRepository) Latest(ctx context.Context, recordID string) (*model.RecordVersion, error) {
	var v model.RecordVersion
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("version_num DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("record_version: latest: %w", err)
	}
	return &v, nil
}

func (r *gormRecordVersionRepository) History(ctx context.Context, recordID string) ([]model.RecordVersion, error) {
	var versions []model.RecordVersion
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("version_num ASC").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("record_version: history: %w", err)
	}
	return versions, nil
}
