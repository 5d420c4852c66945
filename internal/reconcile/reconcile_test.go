package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()

	gdb, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop(), LogLevel: logger.Silent})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(
		repository.NewOrganizationRepository(gdb),
		repository.NewLocationRepository(gdb),
		repository.NewServiceRepository(gdb),
		repository.NewRecordVersionRepository(gdb),
		repository.NewConstraintViolationRepository(gdb),
		NewAdvisoryLock(rdb, 5*time.Second),
		Config{
			OrgProximityThreshold:  25,
			LocationCoordTolerance: 0.01,
			DBMaxRetries:           3,
			ProvenanceRanks:        map[string]int{"trusted-scraper": 10, "generic-scraper": 1},
		},
		zap.NewNop(),
	)
}

func floatPtr(f float64) *float64 { return &f }

func basicInput(scraperID string) Input {
	return Input{
		ScraperID:       scraperID,
		SourceTimestamp: time.Now().Add(-time.Hour),
		Organization:    hsds.OrganizationDraft{Name: "Helping Hands Food Pantry"},
		Locations: []validate.LocationOutcome{
			{
				Location: hsds.LocationDraft{
					Name:        "Main Site",
					AddressLine: "100 Oak St",
					PostalCode:  "12180",
					Latitude:    floatPtr(42.6526),
					Longitude:   floatPtr(-73.7562),
				},
				ConfidenceScore:  90,
				ValidationStatus: model.ValidationVerified,
			},
		},
		Services: []hsds.ServiceDraft{
			{Name: "Food Distribution", Description: "Weekly groceries", LocationIndex: intPtr(0)},
		},
	}
}

func intPtr(i int) *int { return &i }

// TestReconcile_FreshSubmissionCreatesCanonicalRows covers scenario S1
// (spec §8.4): a first-ever submission produces exactly one canonical
// Organization, Location, and Service, each at version 1.
func TestReconcile_FreshSubmissionCreatesCanonicalRows(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	result, err := r.Reconcile(ctx, basicInput("trusted-scraper"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.UUID{}, result.OrganizationID)
	require.Len(t, result.LocationIDs, 1)
	require.Len(t, result.ServiceIDs, 1)
	require.Empty(t, result.Rejected)

	orgVersions, err := r.versionRepo.History(ctx, result.OrganizationID.String())
	require.NoError(t, err)
	require.Len(t, orgVersions, 1)
	require.Equal(t, 1, orgVersions[0].VersionNum)
}

// TestReconcile_RescrapeSameSubmissionIsIdempotentOnCanonicalRows covers
// scenario S2: re-submitting the identical payload from the same scraper
// upserts its existing source row and produces no new canonical row and no
// version bump (nothing changed).
func TestReconcile_RescrapeSameSubmissionIsIdempotentOnCanonicalRows(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	in := basicInput("trusted-scraper")

	first, err := r.Reconcile(ctx, in)
	require.NoError(t, err)

	second, err := r.Reconcile(ctx, in)
	require.NoError(t, err)

	require.Equal(t, first.OrganizationID, second.OrganizationID)
	require.Equal(t, first.LocationIDs[0], second.LocationIDs[0])
	require.Equal(t, first.ServiceIDs[0], second.ServiceIDs[0])

	versions, err := r.versionRepo.History(ctx, first.OrganizationID.String())
	require.NoError(t, err)
	require.Len(t, versions, 1, "no canonical field changed, so no new version should be written")

	sources, err := r.orgRepo.SourcesForCanonical(ctx, first.OrganizationID)
	require.NoError(t, err)
	require.Len(t, sources, 1, "same scraper re-observing should upsert, not duplicate, its source row")
}

// TestReconcile_SecondScraperMergesIntoSameOrganization covers scenario S6:
// a second scraper submitting a nearby, same-named organization with
// richer data merges into the existing canonical row rather than creating
// a duplicate.
func TestReconcile_SecondScraperMergesIntoSameOrganization(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	first, err := r.Reconcile(ctx, basicInput("generic-scraper"))
	require.NoError(t, err)

	enriched := basicInput("trusted-scraper")
	enriched.Organization.Description = "A community-run food pantry serving the Capital Region."
	enriched.Organization.URL = "https://example.org"

	second, err := r.Reconcile(ctx, enriched)
	require.NoError(t, err)

	require.Equal(t, first.OrganizationID, second.OrganizationID, "same normalized name + nearby location must match, not duplicate")

	org, err := r.orgRepo.Get(ctx, second.OrganizationID)
	require.NoError(t, err)
	require.Equal(t, enriched.Organization.Description, org.Description)
	require.Equal(t, enriched.Organization.URL, org.URL)

	versions, err := r.versionRepo.History(ctx, second.OrganizationID.String())
	require.NoError(t, err)
	require.Len(t, versions, 2, "the merge introduced new field values, so a version bump is expected")
}

// TestReconcile_RejectedLocationIsNeverPersistedAsCanonical covers the
// rejection gate (spec §4.G.4): a hard-rejected location produces a zero
// UUID and skips its dependent service.
func TestReconcile_RejectedLocationIsNeverPersistedAsCanonical(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	in := basicInput("trusted-scraper")
	in.Locations[0].ValidationStatus = model.ValidationRejected
	in.Locations[0].ValidationNotes = []string{"hard reject: zero coordinates"}

	result, err := r.Reconcile(ctx, in)
	require.NoError(t, err)
	require.Equal(t, uuid.UUID{}, result.LocationIDs[0])
	require.Equal(t, uuid.UUID{}, result.ServiceIDs[0])
	require.Len(t, result.Rejected, 2)
}

// TestNormalizeName_IsPureAndStable pins the spec §3.3 invariant directly.
func TestNormalizeName_IsPureAndStable(t *testing.T) {
	require.Equal(t, "helping hands food pantry", NormalizeName("  Helping   Hands FOOD Pantry "))
	require.Equal(t, NormalizeName("Acme Corp"), NormalizeName("Acme Corp"))
}
