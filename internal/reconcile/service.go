package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
)

// reconcileService matches or creates one canonical Service, scoped to a
// single organization by (organization_id, name) (spec §4.G.2).
func (r *Reconciler) reconcileService(ctx context.Context, orgID uuid.UUID, scraperID string, sourceTimestamp time.Time, draft hsds.ServiceDraft) (uuid.UUID, error) {
	matchKey := "service:" + orgID.String() + ":" + NormalizeName(draft.Name)
	var svcID uuid.UUID

	err := r.withRetry(ctx, matchKey, func() error {
		match, err := r.svcRepo.FindByOrgAndName(ctx, orgID, draft.Name)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			match = nil
		}

		if match == nil {
			svc := &model.Service{
				OrganizationID:         orgID,
				Name:                   draft.Name,
				Description:            draft.Description,
				Status:                 model.ServiceStatus(defaultString(draft.Status, string(model.ServiceActive))),
				EligibilityDescription: draft.EligibilityDescription,
				IsCanonical:            true,
			}
			if err := r.svcRepo.Create(ctx, svc); err != nil {
				return err
			}
			if err := r.writeVersion(ctx, model.RecordTypeService, svc.ID, 1, svc, scraperID); err != nil {
				return err
			}
			svcID = svc.ID
		} else {
			changed := r.mergeService(match, draft)
			if changed {
				if err := r.svcRepo.Update(ctx, match); err != nil {
					return err
				}
				if err := r.bumpVersion(ctx, model.RecordTypeService, match.ID, match, scraperID); err != nil {
					return err
				}
			}
			svcID = match.ID
		}

		return r.svcRepo.UpsertSource(ctx, &model.ServiceSource{
			CanonicalID: svcID,
			ScraperID:   scraperID,
			Name:        draft.Name,
			Description: draft.Description,
			Status:      model.ServiceStatus(defaultString(draft.Status, string(model.ServiceActive))),
			ObservedAt:  sourceTimestamp,
		})
	})
	return svcID, err
}

// mergeService applies longest-non-redundant text merging for description
// and eligibility text, and lets an explicit non-empty incoming status
// overwrite the canonical one (spec §4.G.3 step 4).
func (r *Reconciler) mergeService(canonical *model.Service, draft hsds.ServiceDraft) bool {
	changed := false

	if longer := longestNonRedundant(canonical.Description, draft.Description); longer != canonical.Description {
		canonical.Description = longer
		changed = true
	}
	if longer := longestNonRedundant(canonical.EligibilityDescription, draft.EligibilityDescription); longer != canonical.EligibilityDescription {
		canonical.EligibilityDescription = longer
		changed = true
	}
	if draft.Status != "" && model.ServiceStatus(draft.Status) != canonical.Status {
		canonical.Status = model.ServiceStatus(draft.Status)
		changed = true
	}

	return changed
}
