// Package llm implements component D (spec §4.D): a provider-neutral
// interface to one or more hosted LLMs with structured, schema-constrained
// output. The Anthropic adapter in anthropic.go is grounded on the
// message/content-block conversion pattern in
// other_examples/314950bb_haowjy-meridian-llm-go's provider adapter,
// simplified to one provider rather than that example's full cross-provider
// normalization layer.
package llm

import (
	"context"
	"errors"
	"time"
)

// Sentinel outcomes (spec §4.D). internal/worker does not distinguish
// between them: any error a Processor returns nacks the job the same way.
var (
	ErrQuotaExceeded  = errors.New("llm: quota exceeded")
	ErrAuthFailed     = errors.New("llm: authentication failed")
	ErrTransient      = errors.New("llm: transient failure")
	ErrSchemaViolation = errors.New("llm: output violates schema")
)

// Config configures one alignment call (spec §4.D).
type Config struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // "json_object", constrained to the HSDS schema
	Schema         []byte // JSON Schema bytes referenced by the prompt
}

// Usage reports token accounting for a call, for cost observability.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// AlignResult is the outcome of one LLM invocation (spec §4.D).
type AlignResult struct {
	StructuredOutput []byte // raw JSON; the caller decodes it into hsds.Payload, rejecting unknown fields
	Confidence       *float64
	Usage            Usage
}

// Client is the provider-neutral contract every LLM backend implements.
type Client interface {
	Align(ctx context.Context, prompt string, cfg Config) (AlignResult, error)
}

// QuotaBackoff holds the base delay, cap and multiplier for pausing after a
// quota-exhausted LLM call. It is a plain parameter holder: it computes no
// delay, and no code in this module reads it; the worker does not pause
// dequeuing on ErrQuotaExceeded.
type QuotaBackoff struct {
	Base time.Duration
	Max  time.Duration
	Mult float64
}
