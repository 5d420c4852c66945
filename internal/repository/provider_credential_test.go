package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require.NoError(t, db.InitEncryption([]byte("01234567890123456789012345678901")[:32]))
	gdb, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop(), LogLevel: logger.Silent})
	require.NoError(t, err)
	return gdb
}

func TestProviderCredentialRepository_UpsertThenGet_RoundTripsEncryptedKey(t *testing.T) {
	gdb := newTestDB(t)
	repo := repository.NewProviderCredentialRepository(gdb)
	ctx := context.Background()

	err := repo.Upsert(ctx, &model.ProviderCredential{
		Provider: "anthropic",
		Kind:     "llm",
		APIKey:   "sk-ant-test-key",
		Enabled:  true,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "anthropic", "llm")
	require.NoError(t, err)
	require.Equal(t, db.EncryptedString("sk-ant-test-key"), got.APIKey)
}

func TestProviderCredentialRepository_Get_ReturnsErrNotFoundWhenAbsent(t *testing.T) {
	gdb := newTestDB(t)
	repo := repository.NewProviderCredentialRepository(gdb)

	_, err := repo.Get(context.Background(), "anthropic", "llm")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProviderCredentialRepository_Get_IgnoresDisabledCredential(t *testing.T) {
	gdb := newTestDB(t)
	repo := repository.NewProviderCredentialRepository(gdb)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &model.ProviderCredential{
		Provider: "anthropic",
		Kind:     "llm",
		APIKey:   "sk-ant-disabled",
		Enabled:  false,
	}))

	_, err := repo.Get(ctx, "anthropic", "llm")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
