package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	httpopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/server/http"
)

type fakeServer struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.events = append(*f.events, "start "+f.name)
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	*f.events = append(*f.events, "stop "+f.name)
	return nil
}

func TestManagerStopsInReverseOrder(t *testing.T) {
	var events []string
	m := NewManager(time.Second)
	m.Add(&fakeServer{name: "a", events: &events})
	m.Add(&fakeServer{name: "b", events: &events})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager(time.Second)
	m.Add(&fakeServer{name: "a", events: &events})
	m.Add(&fakeServer{name: "b", events: &events, startErr: stderrors.New("port in use")})

	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "port in use")
	assert.Equal(t, []string{"start a", "stop a"}, events)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	var events []string
	m := NewManager(time.Second)
	m.Add(&fakeServer{name: "a", events: &events})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.started) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestHTTPServerServesEngine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opts := httpopts.NewOptions()
	opts.Addr = "127.0.0.1:0"
	opts.Mode = gin.TestMode
	engine := NewEngine(opts)
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	s := NewHTTPServer(opts, engine)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestEngineJSONNotFound(t *testing.T) {
	opts := httpopts.NewOptions()
	opts.Mode = gin.TestMode
	engine := NewEngine(opts)
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "route not found")
}
