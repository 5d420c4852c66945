package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/contentstore"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/geocode"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/llm"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/recorder"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
)

func newTestBus(t *testing.T) (*queue.Bus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, queue.Config{}), rdb
}

type fakeLLMClient struct{ output string }

func (f *fakeLLMClient) Align(ctx context.Context, prompt string, cfg llm.Config) (llm.AlignResult, error) {
	return llm.AlignResult{StructuredOutput: []byte(f.output)}, nil
}

const fixturePayload = `{"organization":{"name":"Helping Hands"},"locations":[{"name":"Main","address":"100 Oak St"}],"services":[]}`

func TestLLMStage_LoadsContentAlignsAndEnqueuesValidate(t *testing.T) {
	dir := t.TempDir()
	bus, rdb := newTestBus(t)
	store := contentstore.New(rdb, dir, zap.NewNop())

	res, err := store.Store(context.Background(), []byte("raw scraped text"), "scraper-a")
	require.NoError(t, err)
	require.True(t, res.IsNew)

	aligner := hsds.New(&fakeLLMClient{output: fixturePayload}, "schema-ref", zap.NewNop())
	stage := LLMStage(store, aligner, hsds.Config{MinConfidence: 0.1, MaxRetries: 1}, bus, zap.NewNop())

	payload, err := json.Marshal(LLMJobPayload{ContentHash: res.Hash})
	require.NoError(t, err)

	job := queue.Job{ID: "job-1", Type: queue.JobTypeLLM, Payload: payload, Metadata: queue.Metadata{ScraperID: "scraper-a", Priority: 5}}
	result, err := stage(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", result.Status)

	n, err := bus.Length(context.Background(), "validate")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestValidateStage_EnqueuesScoredBundle(t *testing.T) {
	bus, rdb := newTestBus(t)
	geo := geocode.New(nil, nil, rdb, time.Hour, zap.NewNop())
	enricher := validate.New(geo, zap.NewNop())

	stage := ValidateStage(enricher, validate.Config{RejectionThreshold: 10, VerifiedThreshold: 70}, bus, zap.NewNop())

	payload, err := json.Marshal(ValidateJobPayload{
		Organization: hsds.OrganizationDraft{Name: "Helping Hands"},
		Locations: []hsds.LocationDraft{{
			Name: "Main", AddressLine: "100 Oak St", City: "Springfield", State: "IL", PostalCode: "62701",
			Latitude: floatPtr(39.78), Longitude: floatPtr(-89.65),
		}},
	})
	require.NoError(t, err)

	job := queue.Job{ID: "job-2", Type: queue.JobTypeValidate, Payload: payload, Metadata: queue.Metadata{ScraperID: "scraper-a", Priority: 5}}
	result, err := stage(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", result.Status)

	n, err := bus.Length(context.Background(), "reconcile")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRecordStage_ArchivesUpstreamResult(t *testing.T) {
	dir := t.TempDir()
	rec, err := recorder.New(dir, zap.NewNop())
	require.NoError(t, err)

	stage := RecordStage(rec, zap.NewNop())

	upstream := queue.JobResult{JobID: "job-3", Status: "SUCCEEDED", ProducedAt: time.Now().UTC()}
	payload, err := json.Marshal(upstream)
	require.NoError(t, err)

	observedAt := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	job := queue.Job{ID: "job-4", Type: queue.JobTypeRecord, Payload: payload, Metadata: queue.Metadata{ScraperID: "scraper-a", CreatedAt: observedAt}}

	result, err := stage(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", result.Status)
}

func floatPtr(f float64) *float64 { return &f }
