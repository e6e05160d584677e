package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedbackRequest struct {
	Thumb    string `json:"thumb" validate:"thumb"`
	Feedback string `json:"feedback" validate:"max=10"`
}

type chainConfig struct {
	ModelID   string   `json:"modelId" validate:"required,modelid"`
	Variables []string `json:"promptVariables" validate:"dive,templatevar"`
	State     string   `json:"state" validate:"omitempty,handoffstate"`
}

func TestCustomRules(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&feedbackRequest{Thumb: "up"}))
	assert.NoError(t, v.Validate(&feedbackRequest{}))
	assert.Error(t, v.Validate(&feedbackRequest{Thumb: "sideways"}))

	assert.NoError(t, v.Validate(&chainConfig{ModelID: "anthropic.claude-3-haiku", Variables: []string{"context", "question"}, State: "handoff_up"}))
	assert.Error(t, v.Validate(&chainConfig{ModelID: "bad model"}))
	assert.Error(t, v.Validate(&chainConfig{ModelID: "m", Variables: []string{"1bad"}}))
	assert.Error(t, v.Validate(&chainConfig{ModelID: "m", State: "escalated"}))
}

func TestValidateWithLang(t *testing.T) {
	v := New()

	errs := v.ValidateWithLang(&feedbackRequest{Thumb: "x"}, "en-US")
	require.True(t, errs.HasErrors())
	assert.Equal(t, "thumb", errs.Errors[0].Tag)
	assert.Contains(t, errs.Errors[0].Message, "must be up or down")

	errs = v.ValidateWithLang(&feedbackRequest{Thumb: "x"}, "zh-CN")
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs.Errors[0].Message, "只能是")

	assert.Nil(t, v.ValidateWithLang(&feedbackRequest{Thumb: "down"}, "en"))
}

func TestErrorString(t *testing.T) {
	var nilErrs *ValidationErrors
	assert.Empty(t, nilErrs.Error())

	errs := NewValidationError("a", "required", "a is required")
	errs.Append("b", "max", "b is too long")
	assert.Equal(t, "validation failed: a is required; b is too long", errs.Error())
}
