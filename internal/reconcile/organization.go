package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
)

// reconcileOrganization matches or creates the canonical Organization
// (spec §4.G.2, §4.G.3). The match key is normalized_name; the lock keyed
// on it serializes concurrent matchers so two workers reconciling the same
// name at the same instant produce exactly one canonical row (spec §8.3,
// scenario S5).
func (r *Reconciler) reconcileOrganization(ctx context.Context, in Input) (uuid.UUID, error) {
	normalized := NormalizeName(in.Organization.Name)
	var orgID uuid.UUID

	err := r.withRetry(ctx, "organization:"+normalized, func() error {
		candidates, err := r.orgRepo.FindCandidatesByNormalizedName(ctx, normalized)
		if err != nil {
			return err
		}

		// Geographic proximity disambiguates same-named orgs in distant
		// cities (spec §4.G.2): a candidate only matches if at least one of
		// its existing locations is within OrgProximityThreshold miles of at
		// least one of this submission's non-rejected locations.
		var match *model.Organization
		for i := range candidates {
			if r.orgHasNearbyLocation(ctx, candidates[i].ID, in.Locations) {
				match = &candidates[i]
				break
			}
		}

		if match == nil {
			org := &model.Organization{
				Name:             in.Organization.Name,
				NormalizedName:   normalized,
				Description:      in.Organization.Description,
				URL:              in.Organization.URL,
				Email:            in.Organization.Email,
				YearIncorporated: in.Organization.YearIncorporated,
				LegalStatus:      in.Organization.LegalStatus,
				TaxID:            in.Organization.TaxID,
				IsCanonical:      true,
			}
			if err := r.orgRepo.Create(ctx, org); err != nil {
				return err
			}
			if err := r.writeVersion(ctx, model.RecordTypeOrganization, org.ID, 1, org, in.ScraperID); err != nil {
				return err
			}
			orgID = org.ID
		} else {
			changed := r.mergeOrganization(ctx, match, in)
			if changed {
				if err := r.orgRepo.Update(ctx, match); err != nil {
					return err
				}
				if err := r.bumpVersion(ctx, model.RecordTypeOrganization, match.ID, match, in.ScraperID); err != nil {
					return err
				}
			}
			orgID = match.ID
		}

		return r.orgRepo.UpsertSource(ctx, &model.OrganizationSource{
			CanonicalID: orgID,
			ScraperID:   in.ScraperID,
			Name:        in.Organization.Name,
			Description: in.Organization.Description,
			URL:         in.Organization.URL,
			Email:       in.Organization.Email,
			ObservedAt:  in.SourceTimestamp,
		})
	})
	return orgID, err
}

func (r *Reconciler) orgHasNearbyLocation(ctx context.Context, orgID uuid.UUID, locations []validate.LocationOutcome) bool {
	existing, err := r.locRepo.FindByOrganization(ctx, orgID)
	if err != nil || len(existing) == 0 {
		return false
	}
	for _, newLoc := range locations {
		if newLoc.ValidationStatus == model.ValidationRejected {
			continue
		}
		if newLoc.Location.Latitude == nil || newLoc.Location.Longitude == nil {
			continue
		}
		for _, e := range existing {
			if haversineMiles(*newLoc.Location.Latitude, *newLoc.Location.Longitude, e.Latitude, e.Longitude) <= r.cfg.OrgProximityThreshold {
				return true
			}
		}
	}
	return false
}

// mergeOrganization applies the per-field provenance-ranked merge
// (spec §4.G.3 step 4): higher-ranked source wins, ties broken by most
// recent observed_at; non-empty always beats empty.
func (r *Reconciler) mergeOrganization(ctx context.Context, canonical *model.Organization, in Input) bool {
	changed := false
	draft := in.Organization

	set := func(field *string, incoming string) {
		if incoming == "" {
			return
		}
		if *field == "" || r.winsProvenance(ctx, canonical.ID, in.ScraperID, in.SourceTimestamp) {
			if *field != incoming {
				*field = incoming
				changed = true
			}
		}
	}

	set(&canonical.Description, draft.Description)
	set(&canonical.URL, draft.URL)
	set(&canonical.Email, draft.Email)
	set(&canonical.LegalStatus, draft.LegalStatus)
	set(&canonical.TaxID, draft.TaxID)

	return changed
}

// winsProvenance reports whether a new observation from scraperID at
// observedAt should overwrite the canonical field's current value, per the
// provenance-rank-then-recency tie-break (spec §4.G.3 step 4). Since the
// canonical row does not track per-field provenance, this compares the
// incoming scraper against the source rows of every other scraper for the
// canonical record: it wins unless some other source is higher-ranked, or
// equally ranked and more recent.
func (r *Reconciler) winsProvenance(ctx context.Context, canonicalID uuid.UUID, scraperID string, observedAt time.Time) bool {
	sources, err := r.orgRepo.SourcesForCanonical(ctx, canonicalID)
	if err != nil || len(sources) == 0 {
		return true // no competing sources recorded yet
	}

	incomingRank := r.cfg.ProvenanceRanks[scraperID]
	for _, s := range sources {
		if s.ScraperID == scraperID {
			continue
		}
		existingRank := r.cfg.ProvenanceRanks[s.ScraperID]
		if existingRank > incomingRank {
			return false
		}
		if existingRank == incomingRank && s.ObservedAt.After(observedAt) {
			return false
		}
	}
	return true
}

func (r *Reconciler) writeVersion(ctx context.Context, recordType model.RecordType, recordID uuid.UUID, versionNum int, data interface{}, createdBy string) error {
	v := &model.RecordVersion{
		RecordID:   recordID.String(),
		RecordType: recordType,
		VersionNum: versionNum,
		Data:       snapshot(data),
		CreatedBy:  createdBy,
	}
	return r.versionRepo.Append(ctx, v)
}

// bumpVersion writes the next version snapshot for recordID (spec §3.4).
func (r *Reconciler) bumpVersion(ctx context.Context, recordType model.RecordType, recordID uuid.UUID, data interface{}, createdBy string) error {
	latest, err := r.versionRepo.Latest(ctx, recordID.String())
	next := 1
	if err == nil {
		next = latest.VersionNum + 1
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return r.writeVersion(ctx, recordType, recordID, next, data, createdBy)
}
