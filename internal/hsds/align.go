// Package hsds implements component E (spec §4.E): turning raw scraped
// content into HSDS-shaped structured data via LLMClientSet, with
// field-coherence checks and a retry-with-corrective-context loop driven
// by a confidence score.
package hsds

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/llm"
)

// Diagnostics records why a confidence score landed where it did, so a
// corrective retry can target the specific failing fields (spec §4.E
// step 6).
type Diagnostics struct {
	LLMConfidence   *float64 `json:"llm_confidence,omitempty"`
	MissingFields   []string `json:"missing_fields,omitempty"`
	CoherenceIssues []string `json:"coherence_issues,omitempty"`
}

// AlignResult is the component E contract output (spec §4.E).
type AlignResult struct {
	Payload     Payload
	Confidence  float64
	Diagnostics Diagnostics
}

// Config tunes the alignment retry loop (spec §6.5).
type Config struct {
	MinConfidence float64
	MaxRetries    int
	LLM           llm.Config
}

// Aligner is the component E handle.
type Aligner struct {
	client llm.Client
	schema string
	log    *zap.Logger
}

// New returns an Aligner that prompts client with the given verbatim HSDS
// schema reference text (spec §4.E step 1).
func New(client llm.Client, hsdsSchemaRef string, log *zap.Logger) *Aligner {
	return &Aligner{client: client, schema: hsdsSchemaRef, log: log}
}

// Align runs the full protocol in spec §4.E: build prompt, invoke the LLM
// with structured output, parse, coherence-check, score, and retry with
// corrective context until MinConfidence is met or MaxRetries is exhausted.
func (a *Aligner) Align(ctx context.Context, content []byte, cfg Config) (AlignResult, error) {
	var corrective []string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		prompt := a.buildPrompt(content, corrective)

		out, err := a.client.Align(ctx, prompt, cfg.LLM)
		if err != nil {
			return AlignResult{}, fmt.Errorf("hsds: align llm call: %w", err)
		}

		payload, err := parsePayload(out.StructuredOutput)
		if err != nil {
			return AlignResult{}, fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err)
		}

		diag := coherenceCheck(payload)
		confidence := score(payload, diag, out.Confidence)
		diag.LLMConfidence = out.Confidence

		if confidence >= cfg.MinConfidence {
			return AlignResult{Payload: payload, Confidence: confidence, Diagnostics: diag}, nil
		}

		a.log.Info("hsds: alignment below threshold, retrying with corrective context",
			zap.Float64("confidence", confidence),
			zap.Int("attempt", attempt),
			zap.Strings("missing_fields", diag.MissingFields),
			zap.Strings("coherence_issues", diag.CoherenceIssues))

		corrective = append(diag.MissingFields, diag.CoherenceIssues...)

		if attempt == cfg.MaxRetries {
			// Persistent failure: pass the last payload through with its
			// below-threshold Confidence rather than discard it (spec §4.E
			// step 6). AlignResult carries no needs_review marker of its own.
			return AlignResult{Payload: payload, Confidence: confidence, Diagnostics: diag}, nil
		}
	}
	return AlignResult{}, fmt.Errorf("hsds: unreachable")
}

func (a *Aligner) buildPrompt(content []byte, corrective []string) string {
	var b strings.Builder
	b.WriteString("Align the following scraped content to this HSDS schema:\n")
	b.WriteString(a.schema)
	b.WriteString("\n\nContent:\n")
	b.Write(content)
	if len(corrective) > 0 {
		b.WriteString("\n\nThe previous attempt had issues with these fields — fix them: ")
		b.WriteString(strings.Join(corrective, ", "))
	}
	return b.String()
}

func parsePayload(raw []byte) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields() // reject fields not in the schema (spec §4.E step 3)
	if err := dec.Decode(&p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

var (
	phoneLikeRe  = regexp.MustCompile(`\d{3}.*\d{3}.*\d{4}`)
	postalLikeRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// coherenceCheck runs field-coherence rules (spec §4.E step 4): postal code
// matches the US pattern, coordinates plausible. Phone numbers are not
// checked; the drafts carry no phone field.
func coherenceCheck(p Payload) Diagnostics {
	var diag Diagnostics

	if strings.TrimSpace(p.Organization.Name) == "" {
		diag.MissingFields = append(diag.MissingFields, "Organization.Name")
	}

	for i, loc := range p.Locations {
		if strings.TrimSpace(loc.Name) == "" {
			diag.MissingFields = append(diag.MissingFields, fmt.Sprintf("Locations[%d].Name", i))
		}
		if strings.TrimSpace(loc.AddressLine) == "" {
			diag.MissingFields = append(diag.MissingFields, fmt.Sprintf("Locations[%d].AddressLine", i))
		}
		if loc.PostalCode != "" && !postalLikeRe.MatchString(loc.PostalCode) {
			diag.CoherenceIssues = append(diag.CoherenceIssues, fmt.Sprintf("Locations[%d].PostalCode: does not match US postal pattern", i))
		}
		if loc.Latitude != nil && (*loc.Latitude < -90 || *loc.Latitude > 90) {
			diag.CoherenceIssues = append(diag.CoherenceIssues, fmt.Sprintf("Locations[%d].Latitude: out of range", i))
		}
		if loc.Longitude != nil && (*loc.Longitude < -180 || *loc.Longitude > 180) {
			diag.CoherenceIssues = append(diag.CoherenceIssues, fmt.Sprintf("Locations[%d].Longitude: out of range", i))
		}
	}

	return diag
}

// score computes the confidence score per spec §4.E step 5: LLM-reported
// confidence if available, weighted penalties for missing required fields
// (0.05-0.25 each), and coherence pass/fail.
func score(p Payload, diag Diagnostics, llmConfidence *float64) float64 {
	base := 1.0
	if llmConfidence != nil {
		base = *llmConfidence
	}

	penalty := 0.0
	for range diag.MissingFields {
		penalty += 0.15 // mid-range of the 0.05-0.25 band per missing required field
	}
	for range diag.CoherenceIssues {
		penalty += 0.10
	}

	result := base - penalty
	if result < 0 {
		result = 0
	}
	if result > 1 {
		result = 1
	}
	return result
}
