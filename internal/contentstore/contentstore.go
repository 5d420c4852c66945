// Package contentstore implements component A (spec §4.A): a SHA-256
// content-addressable store fronting all scraper output. Re-scrapes that
// produce byte-identical payloads must not pay the LLM cost twice.
//
// The dedup index lives in Redis, keyed by hash, with the check-and-insert
// performed as a single SETNX so two scrapers racing to submit the same
// bytes never both see is_new=true (spec §5: "single-writer-per-insert
// enforced by conditional write (SETNX-equivalent) on the hash key").
// Payload bytes themselves are written to a content-addressed directory on
// disk using the same write-temp-then-rename idiom as the Recorder
// (component H), so a crash mid-write never leaves a partial blob visible.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Load when hash has no known ContentEntry.
var ErrNotFound = errors.New("contentstore: entry not found")

// StoreError is returned when store() cannot complete the atomic check-and-
// insert. Per spec §4.A this is fatal to the scraper submission.
type StoreError struct {
	Hash string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("contentstore: store %s: %v", e.Hash, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Entry is the ContentEntry record (spec §3.1). Hash is the canonical
// identity; the entry is created once and never mutated by the core.
type Entry struct {
	Hash           string    `json:"hash"`
	CreatedAt      time.Time `json:"created_at"`
	FirstScraperID string    `json:"first_scraper_id"`
	JobID          string    `json:"job_id,omitempty"`
	PayloadRef     string    `json:"payload_ref"`
}

// StoreResult is returned by Store.
type StoreResult struct {
	Hash          string
	IsNew         bool
	ExistingJobID string
}

// Store is the component A handle: a dedup index over Redis plus a
// content-addressed blob directory on disk.
type Store struct {
	rdb  *redis.Client
	log  *zap.Logger
	root string
}

// New returns a Store rooted at blobRoot, using rdb for the dedup index.
func New(rdb *redis.Client, blobRoot string, log *zap.Logger) *Store {
	return &Store{rdb: rdb, log: log, root: blobRoot}
}

func indexKey(hash string) string { return "contentstore:entry:" + hash }

// Store computes the SHA-256 of payload, inserts a ContentEntry iff the
// hash is unseen, and always persists the blob to disk (idempotent —
// writing the same bytes to the same path twice is a no-op in effect).
// store(payload, scraper_id) -> {hash, is_new, existing_job_id?} (spec §4.A).
func (s *Store) Store(ctx context.Context, payload []byte, scraperID string) (StoreResult, error) {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	ref, err := s.writeBlob(hash, payload)
	if err != nil {
		return StoreResult{}, &StoreError{Hash: hash, Err: err}
	}

	entry := Entry{
		Hash:           hash,
		CreatedAt:      time.Now().UTC(),
		FirstScraperID: scraperID,
		PayloadRef:     ref,
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return StoreResult{}, &StoreError{Hash: hash, Err: err}
	}

	// SETNX-equivalent: only the first caller to reach Redis for this hash
	// wins the insert; everyone else observes is_new=false.
	ok, err := s.rdb.SetNX(ctx, indexKey(hash), encoded, 0).Result()
	if err != nil {
		return StoreResult{}, &StoreError{Hash: hash, Err: err}
	}

	if ok {
		s.log.Info("content entry created", zap.String("hash", hash), zap.String("scraper_id", scraperID))
		return StoreResult{Hash: hash, IsNew: true}, nil
	}

	existing, err := s.get(ctx, hash)
	if err != nil {
		return StoreResult{}, &StoreError{Hash: hash, Err: err}
	}
	return StoreResult{Hash: hash, IsNew: false, ExistingJobID: existing.JobID}, nil
}

// Load returns the raw payload bytes for hash, read back from the
// content-addressed blob directory. Used by the LLM stage to resolve a
// queued content_hash reference into the bytes it prompts the LLM with.
func (s *Store) Load(ctx context.Context, hash string) ([]byte, error) {
	entry, err := s.get(ctx, hash)
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("contentstore: load: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("contentstore: load: %w", err)
	}
	data, err := os.ReadFile(entry.PayloadRef)
	if err != nil {
		return nil, fmt.Errorf("contentstore: load: read blob: %w", err)
	}
	return data, nil
}

// LookupJob returns the job ID attached to hash, if any (spec §4.A).
func (s *Store) LookupJob(ctx context.Context, hash string) (string, bool, error) {
	entry, err := s.get(ctx, hash)
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("contentstore: lookup_job: %w", err)
	}
	if entry.JobID == "" {
		return "", false, nil
	}
	return entry.JobID, true, nil
}

// AttachJob records that hash produced jobID. Idempotent; a lost write is
// tolerated at worst by redundant LLM work on the next submission
// (spec §4.A failure semantics).
func (s *Store) AttachJob(ctx context.Context, hash, jobID string) error {
	entry, err := s.get(ctx, hash)
	if err != nil {
		s.log.Warn("attach_job: entry missing, tolerating per spec", zap.String("hash", hash), zap.Error(err))
		return nil
	}
	entry.JobID = jobID
	encoded, err := json.Marshal(entry)
	if err != nil {
		s.log.Warn("attach_job: marshal failed, tolerating per spec", zap.Error(err))
		return nil
	}
	if err := s.rdb.Set(ctx, indexKey(hash), encoded, 0).Err(); err != nil {
		s.log.Warn("attach_job: redis write failed, tolerating per spec", zap.Error(err))
		return nil
	}
	return nil
}

func (s *Store) get(ctx context.Context, hash string) (Entry, error) {
	raw, err := s.rdb.Get(ctx, indexKey(hash)).Bytes()
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}

// writeBlob persists payload under root/<hash[:2]>/<hash>.bin via a
// write-temp-then-rename so a crash mid-write never exposes a partial file.
func (s *Store) writeBlob(hash string, payload []byte) (string, error) {
	dir := filepath.Join(s.root, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir blob dir: %w", err)
	}

	final := filepath.Join(dir, hash+".bin")
	if _, err := os.Stat(final); err == nil {
		return final, nil // already written by a prior submission
	}

	tmp, err := os.CreateTemp(dir, hash+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename temp blob: %w", err)
	}
	return final, nil
}
