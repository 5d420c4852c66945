package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts the Anthropic SDK to the Client interface,
// constraining output to JSON via a tool-call forcing a single structured
// response (grounded on the block-conversion technique in
// other_examples/314950bb_haowjy-meridian-llm-go's adapter, simplified to
// the single structured-output tool this pipeline needs rather than that
// example's full multi-block streaming normalization).
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient returns a Client backed by the given API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: c}
}

const structuredOutputToolName = "emit_hsds_payload"

// Align sends prompt to Anthropic, forcing the model to respond via a
// single tool call whose input schema is cfg.Schema, and returns the raw
// JSON tool input as StructuredOutput (spec §4.D).
func (a *AnthropicClient) Align(ctx context.Context, prompt string, cfg Config) (AlignResult, error) {
	var schema interface{}
	if len(cfg.Schema) > 0 {
		if err := json.Unmarshal(cfg.Schema, &schema); err != nil {
			return AlignResult{}, fmt.Errorf("%w: invalid schema: %v", ErrSchemaViolation, err)
		}
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        structuredOutputToolName,
					Description: anthropic.String("Emit the aligned HSDS-shaped payload."),
					InputSchema: anthropic.ToolInputSchemaParam{Properties: schema},
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputToolName},
		},
	})
	if err != nil {
		return AlignResult{}, classifyAnthropicError(err)
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		toolUse := block.AsToolUse()
		if toolUse.Name != structuredOutputToolName {
			continue
		}
		raw, err := json.Marshal(toolUse.Input)
		if err != nil {
			return AlignResult{}, fmt.Errorf("%w: re-marshal tool input: %v", ErrSchemaViolation, err)
		}
		return AlignResult{
			StructuredOutput: raw,
			Usage: Usage{
				InputTokens:  int(msg.Usage.InputTokens),
				OutputTokens: int(msg.Usage.OutputTokens),
			},
		}, nil
	}

	return AlignResult{}, fmt.Errorf("%w: no structured tool_use block in response", ErrSchemaViolation)
}

// classifyAnthropicError maps SDK errors onto the component D taxonomy
// (spec §4.D) so the OrchestratorWorker's retry policy can branch on it.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		case 500, 502, 503, 504:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
