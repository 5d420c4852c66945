package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
)

func TestReconcilerConfigRepository_Get_ReturnsErrNotFoundWhenNoRow(t *testing.T) {
	gdb := newTestDB(t)
	repo := repository.NewReconcilerConfigRepository(gdb)

	_, err := repo.Get(context.Background())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcilerConfigRepository_Get_ReturnsOperatorManagedRow(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Create(&model.ReconcilerConfig{
		OrgProximityThreshold:  30,
		LocationCoordTolerance: 0.0005,
		ProvenanceRanks:        `{"trusted-scraper":10}`,
	}).Error)

	repo := repository.NewReconcilerConfigRepository(gdb)
	got, err := repo.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30.0, got.OrgProximityThreshold)
	require.Equal(t, 0.0005, got.LocationCoordTolerance)
	require.JSONEq(t, `{"trusted-scraper":10}`, got.ProvenanceRanks)
}
