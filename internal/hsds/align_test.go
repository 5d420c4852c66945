package hsds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/llm"
)

type fakeLLMClient struct {
	outputs []string
	calls   int
}

func (f *fakeLLMClient) Align(ctx context.Context, prompt string, cfg llm.Config) (llm.AlignResult, error) {
	out := f.outputs[f.calls]
	if f.calls < len(f.outputs)-1 {
		f.calls++
	}
	return llm.AlignResult{StructuredOutput: []byte(out)}, nil
}

const goodPayload = `{"organization":{"name":"Helping Hands"},"locations":[{"name":"Main","address":"100 Oak St"}],"services":[]}`
const incompletePayload = `{"organization":{"name":""},"locations":[],"services":[]}`

func TestAlign_HighConfidencePassesOnFirstTry(t *testing.T) {
	client := &fakeLLMClient{outputs: []string{goodPayload}}
	aligner := New(client, "schema-ref", zap.NewNop())

	result, err := aligner.Align(context.Background(), []byte("raw content"), Config{MinConfidence: 0.5, MaxRetries: 2})
	require.NoError(t, err)
	require.Equal(t, "Helping Hands", result.Payload.Organization.Name)
	require.GreaterOrEqual(t, result.Confidence, 0.5)
	require.Equal(t, 1, client.calls+1)
}

func TestAlign_RetriesOnLowConfidenceThenSucceeds(t *testing.T) {
	client := &fakeLLMClient{outputs: []string{incompletePayload, goodPayload}}
	aligner := New(client, "schema-ref", zap.NewNop())

	result, err := aligner.Align(context.Background(), []byte("raw content"), Config{MinConfidence: 0.9, MaxRetries: 2})
	require.NoError(t, err)
	require.Equal(t, "Helping Hands", result.Payload.Organization.Name)
}

func TestAlign_PersistentFailurePassesThroughNeedsReview(t *testing.T) {
	client := &fakeLLMClient{outputs: []string{incompletePayload, incompletePayload, incompletePayload}}
	aligner := New(client, "schema-ref", zap.NewNop())

	result, err := aligner.Align(context.Background(), []byte("raw content"), Config{MinConfidence: 0.99, MaxRetries: 2})
	require.NoError(t, err)
	require.Less(t, result.Confidence, 0.99)
}

func TestParsePayload_RejectsUnknownFields(t *testing.T) {
	_, err := parsePayload([]byte(`{"organization":{"name":"X"},"unexpected_field":true}`))
	require.Error(t, err)
}
