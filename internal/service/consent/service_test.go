package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/fin-onboard/backend/internal/analysis/consent"
)

func TestServiceWithoutModelUsesHeuristics(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Config{Enabled: true}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	res := svc.Classify(context.Background(), "Would you like to see recommendations?", "yes please")
	assert.Equal(t, analysis.Affirmative, res.Verdict)
	assert.Equal(t, "fallback", res.Reason)

	res = svc.Classify(context.Background(), "Would you like to see recommendations?", "hmm")
	assert.Equal(t, analysis.Unrecognized, res.Verdict)
}

func TestParseClassifierOutput(t *testing.T) {
	payload, err := parseClassifierOutput("```json\n{\"verdict\":\"negative\",\"confidence\":0.9,\"reason\":\"declined\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "negative", payload.Verdict)
	assert.InDelta(t, 0.9, payload.Confidence, 1e-6)

	_, err = parseClassifierOutput("no json here")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	v, ok := parseVerdict(" Affirmative ")
	assert.True(t, ok)
	assert.Equal(t, analysis.Affirmative, v)

	_, ok = parseVerdict("maybe")
	assert.False(t, ok)
}
