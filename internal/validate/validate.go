// Package validate implements component F (spec §4.F): enrichment of HSDS
// drafts via the geocoding provider set, followed by rule-based confidence
// scoring and validation-status derivation. Rejection here is
// non-destructive — a rejected Location is still passed downstream tagged,
// and it is the Reconciler's job (component G) not to persist it as
// canonical (spec §4.F.4).
package validate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/geocode"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/model"
)

// Config tunes the rule-based scoring thresholds (spec §4.F.3, §6.5).
// PlaceholderPatterns is carried but not read: placeholder detection uses
// the fixed "123 Main St" pattern in placeholderRe.
type Config struct {
	RejectionThreshold int
	VerifiedThreshold  int
	TestPatterns       []string
	PlaceholderPatterns []string
}

// LocationOutcome is the enriched, scored view of one location draft
// (spec §4.F contract output).
type LocationOutcome struct {
	Location         hsds.LocationDraft
	ConfidenceScore  int
	ValidationStatus model.ValidationStatus
	ValidationNotes  []string
	GeocodingSource  string
}

// Enricher is the component F handle.
type Enricher struct {
	geo *geocode.Set
	log *zap.Logger
}

// New returns an Enricher using geo for address/coordinate resolution.
func New(geo *geocode.Set, log *zap.Logger) *Enricher {
	return &Enricher{geo: geo, log: log}
}

// Process enriches then scores one location draft (spec §4.F.1-4).
func (e *Enricher) Process(ctx context.Context, loc hsds.LocationDraft, cfg Config) LocationOutcome {
	loc, geocodingSource, notes := e.enrich(ctx, loc)

	score := 100
	score, notes = applyRules(loc, cfg, score, notes)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := model.ValidationNeedsReview
	switch {
	case score >= cfg.VerifiedThreshold:
		status = model.ValidationVerified
	case score < cfg.RejectionThreshold:
		status = model.ValidationRejected
	}

	return LocationOutcome{
		Location:         loc,
		ConfidenceScore:  score,
		ValidationStatus: status,
		ValidationNotes:  notes,
		GeocodingSource:  geocodingSource,
	}
}

// enrich fills coordinates from an address, or an address from coordinates,
// whichever is missing, recording geocoding_source for the touched field
// set (spec §4.F.1).
func (e *Enricher) enrich(ctx context.Context, loc hsds.LocationDraft) (hsds.LocationDraft, string, []string) {
	var notes []string
	var source string

	switch {
	case loc.Latitude == nil && loc.AddressLine != "":
		addr := strings.TrimSpace(strings.Join([]string{loc.AddressLine, loc.City, loc.State, loc.PostalCode}, ", "))
		result, err := e.geo.Geocode(ctx, addr)
		if err != nil {
			if errors.Is(err, geocode.ErrNotFound) {
				notes = append(notes, "geocoding: address not found")
			} else {
				notes = append(notes, fmt.Sprintf("geocoding: %v", err))
			}
			break
		}
		lat, lon := result.Latitude, result.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
		source = result.Source
		if loc.PostalCode == "" {
			loc.PostalCode = result.Components["postal_code"]
		}
		if loc.State == "" {
			loc.State = result.Components["state"]
		}

	case loc.Latitude != nil && loc.AddressLine == "":
		result, err := e.geo.Reverse(ctx, *loc.Latitude, *loc.Longitude)
		if err != nil {
			notes = append(notes, fmt.Sprintf("reverse geocoding: %v", err))
			break
		}
		loc.AddressLine = result.Address
		source = result.Source
	}

	return loc, source, notes
}

var placeholderRe = regexp.MustCompile(`(?i)^\s*123\s+main\s+st\b`)

// applyRules runs the rule-based validation deltas (spec §4.F.2): hard
// rejects zero the score outright, soft rules apply a delta.
func applyRules(loc hsds.LocationDraft, cfg Config, score int, notes []string) (int, []string) {
	// Test-pattern and placeholder detection run regardless of whether the
	// coordinate checks below hard-reject: a rejection reason must name
	// every cause that applies (spec §8.4 S3 — zero coordinates AND a
	// test-data pattern both need to show up in the logged reason).
	haystack := strings.ToLower(loc.Name + " " + loc.AddressLine)
	var testPatternNote string
	for _, pattern := range cfg.TestPatterns {
		if strings.Contains(haystack, strings.ToLower(pattern)) {
			testPatternNote = fmt.Sprintf("test-data pattern detected: %q", pattern)
			break
		}
	}
	placeholderHit := placeholderRe.MatchString(loc.AddressLine)
	appendPatternNotes := func(notes []string) []string {
		if testPatternNote != "" {
			notes = append(notes, testPatternNote)
		}
		if placeholderHit {
			notes = append(notes, "placeholder address pattern detected")
		}
		return notes
	}

	if loc.Latitude == nil || loc.Longitude == nil {
		notes = append(notes, "hard reject: coordinates absent post-enrichment")
		return 0, appendPatternNotes(notes)
	}
	lat, lon := *loc.Latitude, *loc.Longitude
	if lat == 0 && lon == 0 {
		notes = append(notes, "hard reject: zero coordinates")
		return 0, appendPatternNotes(notes)
	}

	if !inUSBounds(lat, lon) {
		score -= 70
		notes = append(notes, "outside continental US/AK/HI bounds")
	}

	if loc.State != "" && !stateCoherent(loc.State, lat, lon) {
		score -= 20
		notes = append(notes, "state/coordinate mismatch")
	}

	if testPatternNote != "" {
		score = 5
	}
	if placeholderHit {
		score -= 75
	}
	notes = appendPatternNotes(notes)

	if strings.Contains(loc.AddressLine, "interpolated") {
		score -= 5
	}

	return score, notes
}

// inUSBounds checks the continental-US-or-AK/HI bounding rule (spec §8.1,
// §8.3: edge-of-box coordinates pass).
func inUSBounds(lat, lon float64) bool {
	continental := lat >= 25 && lat <= 49 && lon >= -125 && lon <= -67
	alaska := lat >= 51 && lat <= 72 && lon >= -180 && lon <= -129
	hawaii := lat >= 18 && lat <= 23 && lon >= -161 && lon <= -154
	return continental || alaska || hawaii
}

// stateCoherent is a coarse state-vs-coordinate sanity check; a full
// polygon-per-state table is out of scope, so this only flags the clearest
// mismatches (e.g. a "CA" location east of the Mississippi).
func stateCoherent(state string, lat, lon float64) bool {
	switch strings.ToUpper(state) {
	case "CA", "OR", "WA", "NV":
		return lon <= -114
	case "NY", "NJ", "CT", "MA", "PA":
		return lon >= -80
	default:
		return true
	}
}
