package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeAndParseCode(t *testing.T) {
	tests := []struct {
		service, category, sequence int
		expected                    int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{21, 4, 1, 2104001},
		{94, 10, 3, 9410003},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.expected), func(t *testing.T) {
			code := MakeCode(tt.service, tt.category, tt.sequence)
			assert.Equal(t, tt.expected, code)

			s, c, q := ParseCode(code)
			assert.Equal(t, []int{tt.service, tt.category, tt.sequence}, []int{s, c, q})
		})
	}
}

func TestChatbotCodes(t *testing.T) {
	assert.Equal(t, 2104001, ErrChatNotFound.Code)
	assert.Equal(t, http.StatusNotFound, ErrChatNotFound.HTTPStatus())
	assert.True(t, IsClientError(ErrConcurrentUpdate.Code))
	assert.True(t, IsServerError(ErrPipelineConfig.Code))

	got, ok := Lookup(ErrModelInvocation.Code)
	require.True(t, ok)
	assert.Same(t, ErrModelInvocation, got)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(New(ErrChatNotFound.Code, 404, codes.NotFound, "dup", "重复"))
	})
}

func TestWithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("append turn: %w", ErrPersistFailed.WithCause(cause))

	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsCode(err, ErrPersistFailed.Code))
	assert.Equal(t, ErrPersistFailed.Code, GetCode(err))

	// 原始注册值不被修改
	assert.Nil(t, ErrPersistFailed.Unwrap())
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := FromError(stderrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)

	wrapped := FromError(fmt.Errorf("ctx: %w", ErrChatNotFound))
	assert.Equal(t, ErrChatNotFound.Code, wrapped.Code)
	assert.Equal(t, -1, GetCode(stderrors.New("x")))
}

func TestMessageLanguage(t *testing.T) {
	assert.Equal(t, "会话不存在", ErrChatNotFound.Message("zh-CN"))
	assert.Equal(t, "Chat not found", ErrChatNotFound.Message("en"))
	assert.Equal(t, "custom", ErrChatNotFound.WithMessages("custom", "").Message("zh"))
}

func TestFormatVerbose(t *testing.T) {
	out := fmt.Sprintf("%+v", ErrRetrievalFailed.WithCause(stderrors.New("milvus down")))
	assert.Contains(t, out, "HTTP 502")
	assert.Contains(t, out, "caused by: milvus down")
}
