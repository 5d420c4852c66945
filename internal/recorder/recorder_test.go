package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

func TestRecord_WritesFileAndSummary(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	observedAt := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	job := queue.Job{ID: "job-1", Type: queue.JobTypeRecord}
	result := queue.JobResult{JobID: "job-1", Status: "SUCCEEDED", ProducedAt: observedAt}

	require.NoError(t, rec.Record(job, result, "scraper-a", observedAt))

	archivePath := filepath.Join(dir, "daily", "2026-07-31", "job-1.json")
	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	var roundTripped queue.JobResult
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	require.Equal(t, "job-1", roundTripped.JobID)
	require.Equal(t, "SUCCEEDED", roundTripped.Status)

	summaryPath := filepath.Join(dir, "daily", "2026-07-31", "summary.json")
	summaryData, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(summaryData, &summary))
	require.Equal(t, 1, summary.TotalCount)
	require.Equal(t, 1, summary.ByScraper["scraper-a"])
	require.Equal(t, 1, summary.ByStatus["SUCCEEDED"])
}

func TestRecord_AccumulatesAcrossMultipleResultsSameDay(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	observedAt := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(queue.Job{ID: "a"}, queue.JobResult{JobID: "a", Status: "SUCCEEDED"}, "scraper-a", observedAt))
	require.NoError(t, rec.Record(queue.Job{ID: "b"}, queue.JobResult{JobID: "b", Status: "FAILED"}, "scraper-b", observedAt))

	summaryPath := filepath.Join(dir, "daily", "2026-07-31", "summary.json")
	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, 2, summary.TotalCount)
	require.Equal(t, 1, summary.ByStatus["SUCCEEDED"])
	require.Equal(t, 1, summary.ByStatus["FAILED"])
}

func TestRecord_MaintainsLatestSymlink(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	observedAt := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(queue.Job{ID: "c"}, queue.JobResult{JobID: "c", Status: "SUCCEEDED"}, "scraper-a", observedAt))

	target, err := os.Readlink(filepath.Join(dir, "latest"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "daily", "2026-07-31"), target)
}

func TestWriteAtomic_NeverLeavesTempFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, writeAtomic(path, map[string]string{"a": "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "out.json", entries[0].Name())
}
