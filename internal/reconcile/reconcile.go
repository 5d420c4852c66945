// Package reconcile implements component G (spec §4.G): entity matching,
// source/canonical merge, and version tracking against the spatial store.
// This is the hardest component in the pipeline — the only one that
// imposes per-entity ordering across concurrent workers, via AdvisoryLock.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
)

// Config tunes entity matching (spec §4.G.2, §6.5).
type Config struct {
	OrgProximityThreshold  float64
	LocationCoordTolerance float64
	DBMaxRetries           int
	// ProvenanceRanks maps scraper_id -> rank; higher wins a field-level
	// merge tie (spec §4.G.3 step 4). Unlisted scrapers rank 0.
	ProvenanceRanks map[string]int
}

// Input is one validated HSDS submission to reconcile (spec §4.G.1).
type Input struct {
	ScraperID       string
	SourceTimestamp time.Time
	Organization    hsds.OrganizationDraft
	Locations       []validate.LocationOutcome
	Services        []hsds.ServiceDraft // ServiceDraft.LocationIndex indexes into Locations
}

// Result is the reconcile() contract output (spec §4.G.1).
type Result struct {
	OrganizationID uuid.UUID
	LocationIDs    []uuid.UUID // parallel to Input.Locations; zero UUID if rejected
	ServiceIDs     []uuid.UUID // parallel to Input.Services; zero UUID if its location was rejected
	Rejected       []string    // human-readable rejection reasons
}

// Reconciler is the component G handle.
type Reconciler struct {
	orgRepo       repository.OrganizationRepository
	locRepo       repository.LocationRepository
	svcRepo       repository.ServiceRepository
	versionRepo   repository.RecordVersionRepository
	violationRepo repository.ConstraintViolationRepository
	lock          *AdvisoryLock
	cfg           Config
	log           *zap.Logger
}

// New returns a Reconciler wired to its repositories and advisory lock.
func New(
	orgRepo repository.OrganizationRepository,
	locRepo repository.LocationRepository,
	svcRepo repository.ServiceRepository,
	versionRepo repository.RecordVersionRepository,
	violationRepo repository.ConstraintViolationRepository,
	lock *AdvisoryLock,
	cfg Config,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		orgRepo: orgRepo, locRepo: locRepo, svcRepo: svcRepo,
		versionRepo: versionRepo, violationRepo: violationRepo,
		lock: lock, cfg: cfg, log: log,
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeName implements spec §3.3's invariant: O.normalized_name is a
// pure function of O.name (lowercase, collapsed whitespace).
func NormalizeName(name string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(name), " "))
}

// Reconcile runs the full protocol (spec §4.G.1-4): matches or creates the
// canonical Organization, then each Location (honoring the rejection
// gate), then each Service (skipped if its only Location was rejected).
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	orgID, err := r.reconcileOrganization(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: organization: %w", err)
	}

	result := Result{
		OrganizationID: orgID,
		LocationIDs:    make([]uuid.UUID, len(in.Locations)),
		ServiceIDs:     make([]uuid.UUID, len(in.Services)),
	}

	for i, locOutcome := range in.Locations {
		if locOutcome.ValidationStatus == model.ValidationRejected {
			reason := fmt.Sprintf("location %d rejected: %s", i, strings.Join(locOutcome.ValidationNotes, "; "))
			result.Rejected = append(result.Rejected, reason)
			r.log.Info("reconcile: location rejected, no canonical row written", zap.String("reason", reason))
			continue
		}

		locID, err := r.reconcileLocation(ctx, orgID, in.ScraperID, in.SourceTimestamp, locOutcome)
		if err != nil {
			return Result{}, fmt.Errorf("reconcile: location %d: %w", i, err)
		}
		result.LocationIDs[i] = locID
	}

	for i, svc := range in.Services {
		if svc.LocationIndex != nil {
			idx := *svc.LocationIndex
			if idx < 0 || idx >= len(result.LocationIDs) || result.LocationIDs[idx] == (uuid.UUID{}) {
				result.Rejected = append(result.Rejected, fmt.Sprintf("service %d not canonicalized: linked location was rejected", i))
				continue
			}
		}

		svcID, err := r.reconcileService(ctx, orgID, in.ScraperID, in.SourceTimestamp, svc)
		if err != nil {
			return Result{}, fmt.Errorf("reconcile: service %d: %w", i, err)
		}
		result.ServiceIDs[i] = svcID

		if svc.LocationIndex != nil {
			locID := result.LocationIDs[*svc.LocationIndex]
			if err := r.svcRepo.LinkLocation(ctx, svcID, locID); err != nil {
				return Result{}, fmt.Errorf("reconcile: link service %d to location: %w", i, err)
			}
		}
	}

	return result, nil
}

func (r *Reconciler) withRetry(ctx context.Context, matchKey string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.DBMaxRetries; attempt++ {
		handle, err := r.lock.Acquire(ctx, matchKey)
		if err != nil {
			return err
		}
		lastErr = fn()
		handle.Release(ctx)
		if lastErr == nil {
			return nil
		}
		r.log.Warn("reconcile: retrying after row-level conflict", zap.String("match_key", matchKey), zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	if err := r.violationRepo.Log(ctx, "unknown", matchKey, lastErr.Error()); err != nil {
		r.log.Error("reconcile: failed to log constraint violation", zap.Error(err))
	}
	return fmt.Errorf("reconcile: exhausted retries on %q: %w", matchKey, lastErr)
}

func snapshot(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMiles = 3958.8
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat, dLon := toRad(lat2-lat1), toRad(lon2-lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * c
}
