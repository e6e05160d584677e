package biz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
)

var allStates = []model.HandoffState{
	model.HandoffNone, model.HandoffUp, model.HandoffJustTriggered, model.HandoffCompleting,
}

func TestTransitionTable(t *testing.T) {
	for threshold := 1; threshold <= 5; threshold++ {
		for count := 0; count <= 8; count++ {
			for _, s := range allStates {
				name := fmt.Sprintf("%s/c%d/t%d", s, count, threshold)
				got := Transition(s, count, threshold)
				switch {
				case count < threshold:
					assert.Equal(t, model.HandoffNone, got, name)
				case s == model.HandoffJustTriggered || s == model.HandoffCompleting:
					assert.Equal(t, model.HandoffCompleting, got, name)
				default:
					assert.Equal(t, model.HandoffUp, got, name)
				}
			}
		}
	}
}

func TestTransitionScenarios(t *testing.T) {
	state := model.HandoffNone
	var seen []model.HandoffState
	for count := 1; count <= 3; count++ {
		state = Transition(state, count, 3)
		seen = append(seen, state)
	}
	assert.Equal(t, []model.HandoffState{model.HandoffNone, model.HandoffNone, model.HandoffUp}, seen)

	assert.Equal(t, model.HandoffUp, Transition(model.HandoffUp, 4, 3))
	assert.Equal(t, model.HandoffNone, Transition(model.HandoffUp, 1, 3))
}

func TestIncrementAppliesTableOncePerCall(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	svc := NewHandoffService(st, metrics.New())
	ctx := context.Background()

	var states []model.HandoffState
	for i := 0; i < 3; i++ {
		s, err := svc.Increment(ctx, "u1", "c1", 2)
		require.NoError(t, err)
		states = append(states, s)
	}
	assert.Equal(t, []model.HandoffState{model.HandoffNone, model.HandoffUp, model.HandoffUp}, states)

	chat, err := st.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, chat.HandoffRequests)
	assert.Equal(t, model.HandoffUp, chat.HandoffState)
}

func TestIncrementRecomputesAfterConflict(t *testing.T) {
	st := newMemStore()
	c := st.addChat("u1", "c1")
	c.HandoffRequests = 4
	// 并发的摘要任务把状态改成了 just_triggered
	st.conflicts = 1
	st.conflictState = model.HandoffJustTriggered

	svc := NewHandoffService(st, metrics.New())

	got, err := svc.Increment(context.Background(), "u1", "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.HandoffCompleting, got)

	chat, _ := st.Get(context.Background(), "u1", "c1")
	assert.Equal(t, 5, chat.HandoffRequests, "counter must not be incremented twice")
	assert.Equal(t, model.HandoffCompleting, chat.HandoffState)
}

func TestIncrementUnknownChat(t *testing.T) {
	svc := NewHandoffService(newMemStore(), metrics.New())
	_, err := svc.Increment(context.Background(), "u1", "missing", 1)
	assert.Error(t, err)
}

func TestForceUpAndInfo(t *testing.T) {
	st := newMemStore()
	st.addChat("u1", "c1")
	svc := NewHandoffService(st, metrics.New())
	ctx := context.Background()

	require.NoError(t, svc.ForceUp(ctx, "u1", "c1"))
	require.NoError(t, svc.ForceUp(ctx, "u1", "c1"))

	info, err := svc.Info(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.HandoffUp, info.State)
}

func TestHandoffPrompt(t *testing.T) {
	cfg := chatbot.NewHandoffConfig()
	cfg.Prompts = chatbot.HandoffPrompts{HandoffRequested: "req", HandoffJustTriggered: "just", HandoffCompleting: "done"}

	assert.Equal(t, "just", handoffPrompt(cfg, model.HandoffJustTriggered, "", "English"))
	assert.Equal(t, "done", handoffPrompt(cfg, model.HandoffCompleting, "english", "English"))
	assert.Equal(t, "req", handoffPrompt(cfg, model.HandoffUp, "", "English"))
	assert.Equal(t, "req Respond in Spanish.", handoffPrompt(cfg, model.HandoffNone, "Spanish", "English"))
}
