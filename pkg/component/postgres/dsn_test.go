package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/postgres"
)

func TestBuildDSN(t *testing.T) {
	opts := pgopts.NewOptions()
	opts.Password = "secret"

	assert.Equal(t,
		"host=127.0.0.1 port=5432 user=postgres password=secret dbname=chatbot sslmode=disable",
		BuildDSN(opts))
	assert.Empty(t, BuildDSN(nil))
}

func TestEscapeValue(t *testing.T) {
	tests := map[string]string{
		"simple":          "simple",
		"":                "''",
		"with space":      "'with space'",
		"with'quote":      `'with\'quote'`,
		"with\\backslash": `'with\\backslash'`,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, escapeValue(in))
		})
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)

	opts := pgopts.NewOptions()
	opts.Host = ""
	opts.LogLevel = 9
	_, err = New(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
	assert.Contains(t, err.Error(), "log-level")
}
