package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Language  string `mapstructure:"language"`
}

func newPipelineConfig() *pipelineConfig {
	return &pipelineConfig{Threshold: 1, Language: "English"}
}

type recorder struct {
	mu      sync.Mutex
	configs []*pipelineConfig
	reject  bool
}

func (r *recorder) OnConfigChange(c any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return stderrors.New("rejected")
	}
	r.configs = append(r.configs, c.(*pipelineConfig))
	return nil
}

func (r *recorder) last() *pipelineConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func loadViper(t *testing.T, body string) (*viper.Viper, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatbot.yaml")
	writeConfig(t, path, body)
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v, path
}

func TestSubscriberKeepsDefaults(t *testing.T) {
	v, _ := loadViper(t, "chatbot:\n  threshold: 3\n")
	r := &recorder{}

	err := NewReloadableSubscriber(r, "chatbot", newPipelineConfig).Handler()(v)
	require.NoError(t, err)
	assert.Equal(t, &pipelineConfig{Threshold: 3, Language: "English"}, r.last())
}

func TestSubscriberPropagatesRejection(t *testing.T) {
	v, _ := loadViper(t, "chatbot:\n  threshold: 3\n")
	r := &recorder{reject: true}

	err := NewReloadableSubscriber(r, "chatbot", newPipelineConfig).Handler()(v)
	assert.ErrorContains(t, err, "rejected")
}

func TestNotifyContinuesAfterFailure(t *testing.T) {
	v, _ := loadViper(t, "chatbot:\n  threshold: 2\n")
	w := NewWatcher(v)
	bad := &recorder{reject: true}
	good := &recorder{}
	w.Subscribe("a-bad", NewReloadableSubscriber(bad, "chatbot", newPipelineConfig).Handler())
	w.Subscribe("b-good", NewReloadableSubscriber(good, "chatbot", newPipelineConfig).Handler())

	w.notify()
	assert.Nil(t, good.last(), "nothing dispatched before Start")

	w.Start()
	defer w.Stop()
	w.notify()
	require.NotNil(t, good.last())
	assert.Equal(t, 2, good.last().Threshold)

	w.Unsubscribe("b-good")
	w.notify()
	assert.Len(t, good.configs, 1)
}

func TestStartWithoutConfigFile(t *testing.T) {
	w := NewWatcher(viper.New())
	w.Start()
	assert.False(t, w.IsWatching())
}

func TestWatchPicksUpFileChange(t *testing.T) {
	v, path := loadViper(t, "chatbot:\n  threshold: 1\n")
	w := NewWatcher(v)
	r := &recorder{}
	w.Subscribe("chatbot", NewReloadableSubscriber(r, "chatbot", newPipelineConfig).Handler())
	w.Start()
	defer w.Stop()
	assert.True(t, w.IsWatching())

	writeConfig(t, path, "chatbot:\n  threshold: 4\n  language: French\n")
	assert.Eventually(t, func() bool {
		c := r.last()
		return c != nil && c.Threshold == 4 && c.Language == "French"
	}, 5*time.Second, 20*time.Millisecond)
}
