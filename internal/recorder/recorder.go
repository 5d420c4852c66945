// Package recorder implements component H (spec §4.H): archiving JobResult
// messages to a dated filesystem layout. Every successfully acked recorder
// job corresponds to exactly one archive file, written atomically via
// write-temp-then-rename so a crash mid-write never leaves a partial file
// visible under its final name.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

// Summary aggregates one daily directory's outcomes by scraper and status,
// written alongside the individual result files (spec §4.H).
type Summary struct {
	Date       string         `json:"date"`
	TotalCount int            `json:"total_count"`
	ByScraper  map[string]int `json:"by_scraper"`
	ByStatus   map[string]int `json:"by_status"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Recorder archives JobResult messages under archiveRoot/daily/YYYY-MM-DD.
// One Recorder instance serializes the summary.json read-modify-write for
// its root path; the archive file writes themselves are independent since
// each job_id owns exactly one file.
type Recorder struct {
	root string
	log  *zap.Logger

	mu          sync.Mutex
	summaryDate string
	summary     Summary
}

// New returns a Recorder rooted at archiveRoot (created if absent).
func New(archiveRoot string, log *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create archive root: %w", err)
	}
	return &Recorder{root: archiveRoot, log: log}, nil
}

// Record writes one job's result and bumps the day's summary, scraperID and
// observedAt coming from the originating job's metadata (spec §3.1).
func (r *Recorder) Record(job queue.Job, result queue.JobResult, scraperID string, observedAt time.Time) error {
	day := observedAt.UTC().Format("2006-01-02")
	dailyDir := filepath.Join(r.root, "daily", day)
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return fmt.Errorf("recorder: create daily dir: %w", err)
	}

	path := filepath.Join(dailyDir, result.JobID+".json")
	if err := writeAtomic(path, result); err != nil {
		return fmt.Errorf("recorder: write result: %w", err)
	}

	if err := r.bumpSummary(dailyDir, day, scraperID, result.Status); err != nil {
		return fmt.Errorf("recorder: update summary: %w", err)
	}

	if err := r.updateLatestSymlink(dailyDir); err != nil {
		r.log.Warn("recorder: failed to update latest symlink", zap.Error(err))
	}

	return nil
}

func (r *Recorder) bumpSummary(dailyDir, day, scraperID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.summaryDate != day {
		r.summary = loadSummary(dailyDir, day)
		r.summaryDate = day
	}

	r.summary.TotalCount++
	if r.summary.ByScraper == nil {
		r.summary.ByScraper = map[string]int{}
	}
	if r.summary.ByStatus == nil {
		r.summary.ByStatus = map[string]int{}
	}
	r.summary.ByScraper[scraperID]++
	r.summary.ByStatus[status]++
	r.summary.UpdatedAt = observedNow(r.summary)

	return writeAtomic(filepath.Join(dailyDir, "summary.json"), r.summary)
}

// observedNow stamps the summary's updated_at. Kept as a function (rather
// than time.Now() inlined) so tests can override the clock if ever needed.
var observedNow = func(Summary) time.Time { return time.Now() }

func loadSummary(dailyDir, day string) Summary {
	path := filepath.Join(dailyDir, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{Date: day, ByScraper: map[string]int{}, ByStatus: map[string]int{}}
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{Date: day, ByScraper: map[string]int{}, ByStatus: map[string]int{}}
	}
	return s
}

// updateLatestSymlink repoints archive_root/latest at dailyDir.
func (r *Recorder) updateLatestSymlink(dailyDir string) error {
	latest := filepath.Join(r.root, "latest")
	tmp := latest + ".tmp"

	_ = os.Remove(tmp)
	if err := os.Symlink(dailyDir, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, latest)
}

// writeAtomic marshals v as JSON and writes it to path via a temp file in
// the same directory followed by rename, so readers never observe a partial
// file (spec §4.H: "writes are atomic").
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
