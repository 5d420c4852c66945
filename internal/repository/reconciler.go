package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// ConstraintViolationRepository persists contention events logged when the
// Reconciler exhausts its retry budget on a row-level conflict (spec §4.G.5).
type ConstraintViolationRepository interface {
	Log(ctx context.Context, recordType, matchKey, reason string) error
	Recent(ctx context.Context, page model.Page) (model.PagedResult[model.ReconcilerConstraintViolation], error)
}

type gormConstraintViolationRepository struct {
	db *gorm.DB
}

// NewConstraintViolationRepository returns a gorm-backed
// ConstraintViolationRepository.
func NewConstraintViolationRepository(db *gorm.DB) ConstraintViolationRepository {
	return &gormConstraintViolationRepository{db: db}
}

func (r *gormConstraintViolationRepository) Log(ctx context.Context, recordType, matchKey, reason string) error {
	v := &model.ReconcilerConstraintViolation{
		RecordType: recordType,
		MatchKey:   matchKey,
		Reason:     reason,
	}
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("constraint_violation: log: %w", err)
	}
	return nil
}

func (r *gormConstraintViolationRepository) Recent(ctx context.Context, page model.Page) (model.PagedResult[model.ReconcilerConstraintViolation], error) {
	var vs []model.ReconcilerConstraintViolation
	var total int64

	if err := r.db.WithContext(ctx).Model(&model.ReconcilerConstraintViolation{}).Count(&total).Error; err != nil {
		return model.PagedResult[model.ReconcilerConstraintViolation]{}, fmt.Errorf("constraint_violation: count: %w", err)
	}

	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&vs).Error
	if err != nil {
		return model.PagedResult[model.ReconcilerConstraintViolation]{}, fmt.Errorf("constraint_violation: recent: %w", err)
	}

	return model.PagedResult[model.ReconcilerConstraintViolation]{Items: vs, Total: total, Page: page}, nil
}

// ReconcilerConfigRepository reads the operator-managed matching thresholds
// (spec §4.G.2, §6.5) so they can be tuned without a redeploy.
type ReconcilerConfigRepository interface {
	Get(ctx context.Context) (*model.ReconcilerConfig, error)
}

type gormReconcilerConfigRepository struct {
	db *gorm.DB
}

// NewReconcilerConfigRepository returns a gorm-backed ReconcilerConfigRepository.
func NewReconcilerConfigRepository(db *gorm.DB) ReconcilerConfigRepository {
	return &gormReconcilerConfigRepository{db: db}
}

// Get returns the oldest surviving config row — operators are expected to
// maintain at most one active row; ErrNotFound means no override exists and
// callers should fall back to process-local defaults.
func (r *gormReconcilerConfigRepository) Get(ctx context.Context) (*model.ReconcilerConfig, error) {
	var c model.ReconcilerConfig
	err := r.db.WithContext(ctx).Order("created_at ASC").First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reconciler_config: get: %w", err)
	}
	return &c, nil
}
