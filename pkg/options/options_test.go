package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join())
	assert.Equal(t, "store.", Join("store"))
	assert.Equal(t, "chatbot.store.", Join("chatbot", "store"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "[REDACTED]", Redact("hunter2"))
}
