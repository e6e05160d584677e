package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/httpclient"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

// scriptedProvider 按顺序返回预设错误的供应商。
type scriptedProvider struct {
	errs   []error
	calls  int
	chunks []string
}

func (s *scriptedProvider) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedProvider) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &llm.Response{Text: "ok", StopReason: llm.StopEndTurn}, nil
}

func (s *scriptedProvider) GenerateStream(_ context.Context, _ *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	if err := s.next(); err != nil {
		return nil, err
	}
	return &llm.Response{Text: "done", StopReason: llm.StopEndTurn}, nil
}

func (s *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) { return nil, s.next() }
func (s *scriptedProvider) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{1}, s.next()
}
func (s *scriptedProvider) Name() string { return "scripted" }

var throttled = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}

func TestGenerateRetriesThrottling(t *testing.T) {
	inner := &scriptedProvider{errs: []error{throttled, throttled}}
	p := Wrap(inner, fastRetry(3), nil)

	resp, err := p.Generate(context.Background(), &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
}

func TestContentFilterNotRetriedNorCounted(t *testing.T) {
	inner := &scriptedProvider{errs: []error{llm.NewContentFilterError("input blocked")}}
	p := Wrap(inner, fastRetry(3), &CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxCalls: 1})

	_, err := p.Generate(context.Background(), &llm.Request{})
	cf, ok := llm.AsContentFilter(err)
	require.True(t, ok)
	assert.True(t, cf.Input)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, StateClosed, p.CircuitBreaker().State())
}

func TestStreamNotRetriedAfterFirstChunk(t *testing.T) {
	inner := &scriptedProvider{chunks: []string{"Hel"}, errs: []error{throttled}}
	p := Wrap(inner, fastRetry(3), nil)

	var got []string
	_, err := p.GenerateStream(context.Background(), &llm.Request{}, func(c string) error {
		got = append(got, c)
		return nil
	})

	var started *llm.StreamStartedError
	require.ErrorAs(t, err, &started)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, []string{"Hel"}, got)
}

func TestStreamRetriedBeforeFirstChunk(t *testing.T) {
	inner := &scriptedProvider{errs: []error{throttled}}
	p := Wrap(inner, fastRetry(3), nil)

	resp, err := p.GenerateStream(context.Background(), &llm.Request{}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 2, inner.calls)
}

func TestRerankUnsupported(t *testing.T) {
	p := Wrap(&scriptedProvider{}, nil, nil)
	assert.False(t, p.SupportsRerank())
	_, err := p.Rerank(context.Background(), &llm.RerankRequest{})
	assert.Error(t, err)
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("test", &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	var transitions []string
	cb.OnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom }, nil)
	_ = cb.Execute(func() error { return boom }, nil)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }, nil), ErrCircuitBreakerOpen)

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{ErrCircuitBreakerOpen, false},
		{throttled, true},
		{&smithy.GenericAPIError{Code: "ValidationException"}, false},
		{&httpclient.StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{&httpclient.StatusError{StatusCode: http.StatusBadRequest}, false},
		{fmt.Errorf("wrap: %w", &httpclient.StatusError{StatusCode: 503}), true},
		{&llm.StreamStartedError{Err: throttled}, false},
		{errors.New("unknown"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}
