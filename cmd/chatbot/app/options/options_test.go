package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/storage"
)

func validOptions() *ServerOptions {
	o := NewServerOptions()
	o.JWTOptions.Key = "0123456789abcdef0123456789abcdef"
	return o
}

func TestDefaultsAreValid(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
}

func TestOnlySelectedDriverIsValidated(t *testing.T) {
	o := validOptions()
	o.PostgresOptions.Host = ""
	assert.NoError(t, o.Validate())

	o.StorageOptions.Driver = storageopts.DriverPostgres
	assert.ErrorContains(t, o.Validate(), "postgres host is required")
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewServerOptions()
	o.HTTPOptions.Addr = ""
	o.WorkerOptions.Capacity = 0

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.addr cannot be empty")
	assert.Contains(t, err.Error(), "jwt.key must be at least")
	assert.Contains(t, err.Error(), "workers.capacity must be positive")
}

func TestFlagsCoverEverySection(t *testing.T) {
	fss := NewServerOptions().Flags()
	assert.Equal(t, []string{
		"http", "log", "jwt", "storage", "postgres", "mysql", "mongodb",
		"redis", "milvus", "llm", "tracing", "chatbot", "misc",
	}, fss.Order)
	assert.NotNil(t, fss.FlagSets["storage"].Lookup("storage.driver"))
	assert.NotNil(t, fss.FlagSets["misc"].Lookup("workers.capacity"))
}

func TestConfigCarriesOptions(t *testing.T) {
	o := validOptions()
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.ChatbotOptions, cfg.ChatbotOptions)
	assert.Same(t, o.WorkerOptions, cfg.WorkerOptions)
	assert.Equal(t, o.HealthTimeout, cfg.HealthTimeout)
}
