package json

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendSelection(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, IsUsingSonic())
}

func TestDecodeModelOutput(t *testing.T) {
	var out struct {
		ClassificationType string `json:"classification_type"`
		Language           string `json:"language"`
	}
	require.NoError(t, Unmarshal([]byte(`{"classification_type":"question","language":"es"}`), &out))
	assert.Equal(t, "question", out.ClassificationType)
	assert.Equal(t, "es", out.Language)

	assert.False(t, Valid([]byte(`{"classification_type":`)))
}

func TestEncoderEscapesHTMLLikeStdlib(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]string{"text": "<b>"}))
	assert.Contains(t, buf.String(), `\u003cb\u003e`)
}
