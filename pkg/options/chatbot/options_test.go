package chatbot

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.Complete())
	assert.Empty(t, o.Validate())

	assert.Equal(t, 5, o.MaxConversationHistory)
	assert.Equal(t, 5, o.MaxCorpusDocuments)
	assert.InDelta(t, 0.25, o.CorpusSimilarityThreshold, 1e-9)
	assert.Equal(t, 1, o.Handoff.Threshold)
	assert.False(t, o.HandoffEnabled())
}

func TestValidateRejectsBadChains(t *testing.T) {
	o := NewOptions()
	o.LLM.QA = nil
	assert.NotEmpty(t, o.Validate())

	o = NewOptions()
	o.LLM.QA.ModelID = "has space"
	o.LLM.QA.PromptVariables = []string{"ok", "not-ok"}
	errs := o.Validate()
	assert.Len(t, errs, 2)

	o = NewOptions()
	o.Handoff.Enabled = true
	o.LLM.Classification = nil
	assert.NotEmpty(t, o.Validate())

	o = NewOptions()
	o.Handoff.Threshold = 0
	assert.NotEmpty(t, o.Validate())
}

func TestComplete(t *testing.T) {
	o := NewOptions()
	o.Guardrail = GuardrailConfig{}
	o.Reranking = &RerankingConfig{ModelID: "cohere.rerank-v3-5:0"}
	o.LLM.QA.ModelKwargs.MaxTokens = 0
	o.LLM.QA.Kwargs = map[string]any{"system_prompt": "be nice"}

	require.NoError(t, o.Complete())
	assert.Equal(t, DefaultBlockedInputMessage, o.Guardrail.BlockedInputMessage)
	assert.Equal(t, DefaultBlockedOutputMessage, o.Guardrail.BlockedOutputMessage)
	assert.Equal(t, 10, o.Reranking.NumberOfResults)
	assert.Equal(t, 1024, o.LLM.QA.ModelKwargs.MaxTokens)
	assert.Equal(t, "be nice", o.LLM.QA.SystemPrompt)
}

func TestAddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--chatbot.max-corpus-documents=0", "--chatbot.handoff.enabled", "--chatbot.handoff.threshold=3"}))
	assert.Equal(t, 0, o.MaxCorpusDocuments)
	assert.True(t, o.HandoffEnabled())
	assert.Equal(t, 3, o.Handoff.Threshold)
}

func TestCost(t *testing.T) {
	o := NewOptions()
	c, ok := o.Cost("anthropic.claude-3-haiku-20240307-v1:0")
	require.True(t, ok)
	assert.Greater(t, c.OutputCost, c.InputCost)

	_, ok = o.Cost("unknown")
	assert.False(t, ok)
}
