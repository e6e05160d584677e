package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p, err := New("test", &Config{Capacity: 4, ExpiryDuration: time.Second})
	require.NoError(t, err)
	defer func() { _ = p.ReleaseTimeout(time.Second) }()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(50), counter.Load())
	assert.Eventually(t, func() bool { return p.Stats().Completed == 50 }, time.Second, 10*time.Millisecond)
}

func TestNonblockingOverload(t *testing.T) {
	p, err := New("overload", &Config{Capacity: 1, Nonblocking: true})
	require.NoError(t, err)
	defer func() { _ = p.ReleaseTimeout(time.Second) }()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	err = p.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolOverload)
	assert.Equal(t, int64(1), p.Stats().Rejected)
	close(block)
}

func TestPanicIsRecovered(t *testing.T) {
	recovered := make(chan any, 1)
	p, err := New("panics", &Config{Capacity: 1, PanicHandler: func(r any) { recovered <- r }})
	require.NoError(t, err)
	defer func() { _ = p.ReleaseTimeout(time.Second) }()

	require.NoError(t, p.Submit(func() { panic("boom") }))
	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler not called")
	}
	assert.Equal(t, int64(1), p.Stats().Panics)
}

func TestSubmitAfterRelease(t *testing.T) {
	p, err := New("closed", nil)
	require.NoError(t, err)
	require.NoError(t, p.ReleaseTimeout(time.Second))

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.Error(t, func() error { _, err := New("bad", &Config{}); return err }())
}
