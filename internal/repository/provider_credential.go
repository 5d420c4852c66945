package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// ProviderCredentialRepository manages encrypted API keys for geocoding and
// LLM providers (SPEC_FULL §11.1).
type ProviderCredentialRepository interface {
	Get(ctx context.Context, provider, kind string) (*model.ProviderCredential, error)
	Upsert(ctx context.Context, c *model.ProviderCredential) error
}

type gormProviderCredentialRepository struct {
	db *gorm.DB
}

// NewProviderCredentialRepository returns a gorm-backed
// ProviderCredentialRepository.
func NewProviderCredentialRepository(db *gorm.DB) ProviderCredentialRepository {
	return &gormProviderCredentialRepository{db: db}
}

func (r *gormProviderCredentialRepository) Get(ctx context.Context, provider, kind string) (*model.ProviderCredential, error) {
	var c model.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("provider = ? AND kind = ? AND enabled = ?", provider, kind, true).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("provider_credential: get: %w", err)
	}
	return &c, nil
}

func (r *gormProviderCredentialRepository) Upsert(ctx context.Context, c *model.ProviderCredential) error {
	err := r.db.WithContext(ctx).
		Where("provider = ? AND kind = ?", c.Provider, c.Kind).
		Assign(c).
		FirstOrCreate(c).Error
	if err != nil {
		return fmt.Errorf("provider_credential: upsert: %w", err)
	}
	return nil
}
