package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
)

// reconcileLocation matches or creates one canonical Location (spec §4.G.2,
// §4.G.3). Primary match key is spatial: coordinates within
// LocationCoordTolerance of a canonical location of the same organization.
// Postal codes are not compared; the canonical Location row stores none.
// external_identifier is a secondary, stronger match when the scraper
// supplies a stable source key.
// Callers only reach this for non-rejected outcomes (spec §4.G.4), so
// draft.Latitude/Longitude are always non-nil here.
func (r *Reconciler) reconcileLocation(ctx context.Context, orgID uuid.UUID, scraperID string, sourceTimestamp time.Time, outcome validate.LocationOutcome) (uuid.UUID, error) {
	draft := outcome.Location
	lat, lon := *draft.Latitude, *draft.Longitude

	matchKey := fmt.Sprintf("location:%.4f:%.4f:%s", lat, lon, draft.PostalCode)
	var locID uuid.UUID

	err := r.withRetry(ctx, matchKey, func() error {
		match, err := r.findLocationMatch(ctx, orgID, lat, lon, draft)
		if err != nil {
			return err
		}

		if match == nil {
			loc := &model.Location{
				OrganizationID:     orgID,
				Name:               draft.Name,
				Description:        draft.Description,
				Latitude:           lat,
				Longitude:          lon,
				LocationType:       model.LocationType(defaultString(draft.LocationType, string(model.LocationPhysical))),
				ExternalIdentifier: draft.ExternalIdentifier,
				GeocodingSource:    outcome.GeocodingSource,
				ConfidenceScore:    outcome.ConfidenceScore,
				ValidationStatus:   outcome.ValidationStatus,
				ValidationNotes:    snapshot(outcome.ValidationNotes),
				IsCanonical:        true,
			}
			if err := r.locRepo.Create(ctx, loc); err != nil {
				return err
			}
			if err := r.writeVersion(ctx, model.RecordTypeLocation, loc.ID, 1, loc, scraperID); err != nil {
				return err
			}
			locID = loc.ID
		} else {
			changed := r.mergeLocation(match, draft, outcome)
			if changed {
				if err := r.locRepo.Update(ctx, match); err != nil {
					return err
				}
				if err := r.bumpVersion(ctx, model.RecordTypeLocation, match.ID, match, scraperID); err != nil {
					return err
				}
			}
			locID = match.ID
		}

		return r.locRepo.UpsertSource(ctx, &model.LocationSource{
			CanonicalID:     locID,
			ScraperID:       scraperID,
			OrganizationID:  orgID,
			Name:            draft.Name,
			Latitude:        &lat,
			Longitude:       &lon,
			AddressLine:     draft.AddressLine,
			PostalCode:      draft.PostalCode,
			State:           draft.State,
			GeocodingSource: outcome.GeocodingSource,
			ConfidenceScore: outcome.ConfidenceScore,
			ObservedAt:      sourceTimestamp,
		})
	})
	return locID, err
}

func (r *Reconciler) findLocationMatch(ctx context.Context, orgID uuid.UUID, lat, lon float64, draft hsds.LocationDraft) (*model.Location, error) {
	if draft.ExternalIdentifier != "" {
		if m, err := r.locRepo.FindByExternalIdentifier(ctx, draft.ExternalIdentifier); err == nil {
			return m, nil
		}
	}

	candidates, err := r.locRepo.FindCandidatesNear(ctx, lat, lon, r.cfg.LocationCoordTolerance)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		c := &candidates[i]
		if c.OrganizationID != orgID {
			continue
		}
		within := abs(c.Latitude-lat) <= r.cfg.LocationCoordTolerance && abs(c.Longitude-lon) <= r.cfg.LocationCoordTolerance
		if within {
			return c, nil
		}
	}
	return nil, nil
}

// mergeLocation applies weighted-centroid coordinate merging (weighted by
// each observation's confidence score) and longest-non-redundant text
// merging for free-text fields (spec §4.G.3 step 4).
func (r *Reconciler) mergeLocation(canonical *model.Location, draft hsds.LocationDraft, outcome validate.LocationOutcome) bool {
	changed := false

	totalWeight := float64(canonical.ConfidenceScore + outcome.ConfidenceScore)
	if totalWeight > 0 {
		newLat := (canonical.Latitude*float64(canonical.ConfidenceScore) + *draft.Latitude*float64(outcome.ConfidenceScore)) / totalWeight
		newLon := (canonical.Longitude*float64(canonical.ConfidenceScore) + *draft.Longitude*float64(outcome.ConfidenceScore)) / totalWeight
		if newLat != canonical.Latitude || newLon != canonical.Longitude {
			canonical.Latitude, canonical.Longitude = newLat, newLon
			changed = true
		}
	}

	if longer := longestNonRedundant(canonical.Description, draft.Description); longer != canonical.Description {
		canonical.Description = longer
		changed = true
	}

	if canonical.Name == "" && draft.Name != "" {
		canonical.Name = draft.Name
		changed = true
	}

	if outcome.ConfidenceScore > canonical.ConfidenceScore {
		canonical.ConfidenceScore = outcome.ConfidenceScore
		canonical.ValidationStatus = outcome.ValidationStatus
		canonical.ValidationNotes = snapshot(outcome.ValidationNotes)
		changed = true
	}

	return changed
}

// longestNonRedundant keeps whichever of a, b is longer, unless the shorter
// is already a substring of the longer — in which case the longer already
// subsumes it and nothing changes (spec §4.G.3 step 4).
func longestNonRedundant(a, b string) string {
	if b == "" {
		return a
	}
	if a == "" {
		return b
	}
	if strings.Contains(a, b) {
		return a
	}
	if strings.Contains(b, a) {
		return b
	}
	if len(b) > len(a) {
		return b
	}
	return a
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
