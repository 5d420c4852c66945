// Package pipeline wires the component contracts (contentstore, hsds,
// validate, reconcile, recorder) into the queue.Job/JobResult wire format
// each stage's Worker dequeues and produces (spec §6.2). cmd/pipeline's
// main.go only selects which stage processor to run for a given queue name — all
// the dequeue-payload-decode / re-enqueue-downstream logic lives here so it
// can be unit tested without a cobra process around it.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/contentstore"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/reconcile"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/recorder"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/worker"
)

// LLMJobPayload is the "llm" queue's wire payload (spec §6.2: "raw content
// ref for llm").
type LLMJobPayload struct {
	ContentHash string `json:"content_hash"`
}

// ValidateJobPayload is the "validate" queue's wire payload (spec §6.2:
// "HSDS draft for validator").
type ValidateJobPayload struct {
	Organization hsds.OrganizationDraft `json:"organization"`
	Locations    []hsds.LocationDraft   `json:"locations"`
	Services     []hsds.ServiceDraft    `json:"services"`
}

// ReconcileJobPayload is the "reconcile" queue's wire payload (spec §6.2:
// "validated HSDS for reconciler").
type ReconcileJobPayload struct {
	Organization hsds.OrganizationDraft    `json:"organization"`
	Locations    []validate.LocationOutcome `json:"locations"`
	Services     []hsds.ServiceDraft       `json:"services"`
}

// LLMStage turns a content_hash reference into an HSDS draft and enqueues
// it onto the validate queue (spec §4.D + §4.E handoff).
func LLMStage(store *contentstore.Store, aligner *hsds.Aligner, alignCfg hsds.Config, bus *queue.Bus, log *zap.Logger) worker.Processor {
	return func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		start := time.Now()
		var in LLMJobPayload
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return queue.JobResult{}, fmt.Errorf("llm stage: decode payload: %w", err)
		}

		content, err := store.Load(ctx, in.ContentHash)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("llm stage: load content: %w", err)
		}

		aligned, err := aligner.Align(ctx, content, alignCfg)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("llm stage: align: %w", err)
		}

		if err := store.AttachJob(ctx, in.ContentHash, job.ID); err != nil {
			log.Warn("llm stage: attach job failed, tolerating", zap.Error(err))
		}

		downstream := ValidateJobPayload{
			Organization: aligned.Payload.Organization,
			Locations:    aligned.Payload.Locations,
			Services:     aligned.Payload.Services,
		}
		downstreamPayload, err := json.Marshal(downstream)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("llm stage: marshal downstream payload: %w", err)
		}

		if _, err := bus.Enqueue(ctx, "validate", queue.Job{
			Type:     queue.JobTypeValidate,
			Payload:  downstreamPayload,
			Metadata: job.Metadata,
			ParentID: job.ID,
		}, job.Metadata.Priority); err != nil {
			return queue.JobResult{}, fmt.Errorf("llm stage: enqueue validate: %w", err)
		}

		confidence := aligned.Confidence
		return queue.JobResult{
			JobID:      job.ID,
			Status:     "SUCCEEDED",
			ProducedAt: time.Now().UTC(),
			LatencyMS:  time.Since(start).Milliseconds(),
			Confidence: &confidence,
		}, nil
	}
}

// ValidateStage enriches and scores every Location in the draft, then
// enqueues the scored bundle onto the reconcile queue (spec §4.F + §4.G
// handoff).
func ValidateStage(enricher *validate.Enricher, validateCfg validate.Config, bus *queue.Bus, log *zap.Logger) worker.Processor {
	return func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		start := time.Now()
		var in ValidateJobPayload
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return queue.JobResult{}, fmt.Errorf("validate stage: decode payload: %w", err)
		}

		outcomes := make([]validate.LocationOutcome, len(in.Locations))
		for i, loc := range in.Locations {
			outcomes[i] = enricher.Process(ctx, loc, validateCfg)
		}

		downstream := ReconcileJobPayload{
			Organization: in.Organization,
			Locations:    outcomes,
			Services:     in.Services,
		}
		downstreamPayload, err := json.Marshal(downstream)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("validate stage: marshal downstream payload: %w", err)
		}

		if _, err := bus.Enqueue(ctx, "reconcile", queue.Job{
			Type:     queue.JobTypeReconcile,
			Payload:  downstreamPayload,
			Metadata: job.Metadata,
			ParentID: job.ID,
		}, job.Metadata.Priority); err != nil {
			return queue.JobResult{}, fmt.Errorf("validate stage: enqueue reconcile: %w", err)
		}

		return queue.JobResult{
			JobID:      job.ID,
			Status:     "SUCCEEDED",
			ProducedAt: time.Now().UTC(),
			LatencyMS:  time.Since(start).Milliseconds(),
		}, nil
	}
}

// ReconcileStage matches/merges the scored bundle into the canonical store
// and enqueues the outcome onto the record queue (spec §4.G + §4.H
// handoff).
func ReconcileStage(reconciler *reconcile.Reconciler, bus *queue.Bus, log *zap.Logger) worker.Processor {
	return func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		start := time.Now()
		var in ReconcileJobPayload
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return queue.JobResult{}, fmt.Errorf("reconcile stage: decode payload: %w", err)
		}

		result, err := reconciler.Reconcile(ctx, reconcile.Input{
			ScraperID:       job.Metadata.ScraperID,
			SourceTimestamp: job.Metadata.CreatedAt,
			Organization:    in.Organization,
			Locations:       in.Locations,
			Services:        in.Services,
		})
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("reconcile stage: reconcile: %w", err)
		}

		status := "SUCCEEDED"
		if len(result.Rejected) > 0 {
			status = "REJECTED"
		}

		output, err := json.Marshal(result)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("reconcile stage: marshal result: %w", err)
		}

		jobResult := queue.JobResult{
			JobID:      job.ID,
			Status:     status,
			Output:     output,
			ProducedAt: time.Now().UTC(),
			LatencyMS:  time.Since(start).Milliseconds(),
		}
		if len(result.Rejected) > 0 {
			jobResult.Error = result.Rejected[0]
		}

		resultPayload, err := json.Marshal(jobResult)
		if err != nil {
			return queue.JobResult{}, fmt.Errorf("reconcile stage: marshal record payload: %w", err)
		}

		if _, err := bus.Enqueue(ctx, "record", queue.Job{
			Type:     queue.JobTypeRecord,
			Payload:  resultPayload,
			Metadata: job.Metadata,
			ParentID: job.ID,
		}, job.Metadata.Priority); err != nil {
			return queue.JobResult{}, fmt.Errorf("reconcile stage: enqueue record: %w", err)
		}

		return jobResult, nil
	}
}

// RecordStage archives the upstream JobResult to the dated filesystem
// layout (spec §4.H).
func RecordStage(rec *recorder.Recorder, log *zap.Logger) worker.Processor {
	return func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		start := time.Now()
		var upstream queue.JobResult
		if err := json.Unmarshal(job.Payload, &upstream); err != nil {
			return queue.JobResult{}, fmt.Errorf("record stage: decode payload: %w", err)
		}

		observedAt := job.Metadata.CreatedAt
		if observedAt.IsZero() {
			observedAt = time.Now().UTC()
		}
		if err := rec.Record(job, upstream, job.Metadata.ScraperID, observedAt); err != nil {
			return queue.JobResult{}, fmt.Errorf("record stage: record: %w", err)
		}

		return queue.JobResult{
			JobID:      job.ID,
			Status:     "SUCCEEDED",
			ProducedAt: time.Now().UTC(),
			LatencyMS:  time.Since(start).Milliseconds(),
		}, nil
	}
}
