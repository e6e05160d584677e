package biz

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/pool"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// inline 同步执行任务。
type inline struct{}

func (inline) Submit(task func()) error {
	task()
	return nil
}

func seedTurn(t *testing.T, st *memStore, human, ai string) {
	t.Helper()
	require.NoError(t, st.AppendTurn(ctx,
		&model.Message{UserID: "u1", ChatID: "c1", Type: model.MessageHuman, Content: human},
		&model.Message{UserID: "u1", ChatID: "c1", Type: model.MessageAI, Content: ai},
	))
}

func handoffOptions() *chatbot.Options {
	opts := testOptions()
	opts.Handoff.Enabled = true
	opts.Handoff.Details = nil
	return opts
}

func TestBuildSummaryPrompt(t *testing.T) {
	history := []*model.Message{
		{Type: model.MessageHuman, Content: "my router blinks red"},
		{Type: model.MessageAI, Content: "Try a restart."},
	}

	system, prompt := BuildSummaryPrompt(history, nil)
	assert.Equal(t, summarizerRole, system)
	assert.Equal(t, summarizerBasePrompt+"\n\nCONVERSATION START:\n\nHuman: my router blinks red\n\nAi: Try a restart.\n\nCONVERSATION END", prompt)

	_, prompt = BuildSummaryPrompt(history, []string{"serial number", "model"})
	assert.Contains(t, prompt, "CONVERSATION END\n\n"+detailsHeader+"\n- serial number\n- model\n"+detailsFooter)
}

func TestSummarizeFallsBackOnModelFailure(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	seedTurn(t, st, "hi", "hello")
	opts := handoffOptions()

	tests := map[string]struct {
		step      step
		wantUsage bool
	}{
		"transport error": {step: step{err: stderrors.New("throttled")}},
		"bad stop reason": {step: step{text: "partial", stop: llm.StopReason("guardrail_intervened"), in: 7, out: 1}, wantUsage: true},
		"empty text":      {step: step{text: "  ", in: 7}, wantUsage: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewSummarizer(newGateway(tt.step), st, messageStore{st}, inline{}, metrics.New())
			summary, usage, err := s.Summarize(ctx, opts.Handoff, "u1", "c1")
			require.NoError(t, err)
			assert.Equal(t, FailedToSummarize, summary)
			assert.Equal(t, tt.wantUsage, usage != nil)
		})
	}
}

func TestSummarizeReadsAllPages(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	for i := 0; i < 30; i++ {
		seedTurn(t, st, "q", "a")
	}
	gw := newGateway(reply("- router broken"))
	s := NewSummarizer(gw, st, messageStore{st}, inline{}, metrics.New())

	summary, usage, err := s.Summarize(ctx, handoffOptions().Handoff, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "- router broken", summary)
	assert.Equal(t, 10, usage.InputTokens)
	require.Len(t, gw.reqs, 1)
	assert.Equal(t, summarizerRole, gw.reqs[0].SystemPrompt)
	assert.Equal(t, 30, strings.Count(gw.reqs[0].Prompt, "Human: "))
	assert.Equal(t, 30, strings.Count(gw.reqs[0].Prompt, "Ai: "))
}

func TestTriggerRejects(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	gw := newGateway()
	s := NewSummarizer(gw, st, messageStore{st}, inline{}, metrics.New())

	err := s.Trigger(ctx, testOptions(), "u1", "c1")
	assert.ErrorIs(t, err, errors.ErrHandoffDisabled)

	err = s.Trigger(ctx, handoffOptions(), "u1", "missing")
	assert.ErrorIs(t, err, errors.ErrChatNotFound)
	assert.Zero(t, gw.calls())
}

func TestTriggerRunsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := newMemStore()
	c := st.addChat("u1", "c1")
	c.HandoffState = model.HandoffUp
	seedTurn(t, st, "I want a human", "Connecting you.")

	opts := handoffOptions()
	opts.Costs = map[string]chatbot.ModelCost{opts.Handoff.ModelID: {InputCost: 0.5, OutputCost: 1}}

	workers, err := pool.New("handoff-test", pool.DefaultConfig())
	require.NoError(t, err)

	s := NewSummarizer(newGateway(reply("- wants a human")), st, messageStore{st}, workers, metrics.New())
	require.NoError(t, s.Trigger(ctx, opts, "u1", "c1"))

	assert.Eventually(t, func() bool {
		chat, err := st.Get(ctx, "u1", "c1")
		return err == nil && chat.HandoffState == model.HandoffJustTriggered
	}, 2*time.Second, 10*time.Millisecond)

	chat, _ := st.Get(ctx, "u1", "c1")
	assert.Equal(t, "- wants a human", chat.HandoffObject)
	assert.Equal(t, int64(10), chat.InputTokens)
	assert.InDelta(t, 10*0.5+5*1.0, chat.Cost, 1e-9)

	require.NoError(t, workers.ReleaseTimeout(time.Second))
}

func TestTriggerSurvivesStateRace(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	st.conflicts = 2
	st.conflictState = model.HandoffCompleting

	s := NewSummarizer(newGateway(reply("summary")), st, messageStore{st}, inline{}, metrics.New())
	require.NoError(t, s.Trigger(ctx, handoffOptions(), "u1", "c1"))

	chat, _ := st.Get(ctx, "u1", "c1")
	assert.Equal(t, model.HandoffJustTriggered, chat.HandoffState)
	assert.Equal(t, "summary", chat.HandoffObject)
}
