package validator

import (
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// 自定义校验标签
const (
	TagHandoffState = "handoffstate" // no_handoff | handoff_up | handoff_just_triggered | handoff_completing
	TagThumb        = "thumb"        // up | down
	TagModelID      = "modelid"      // 模型 ID 或 ARN，不含空白
	TagTrimmed      = "trimmed"      // 无首尾空白
	TagTemplateVar  = "templatevar"  // 模板变量名
)

var templateVarRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var handoffStates = map[string]struct{}{
	"no_handoff":             {},
	"handoff_up":             {},
	"handoff_just_triggered": {},
	"handoff_completing":     {},
}

func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagHandoffState, validateHandoffState)
	_ = v.validate.RegisterValidation(TagThumb, validateThumb)
	_ = v.validate.RegisterValidation(TagModelID, validateModelID)
	_ = v.validate.RegisterValidation(TagTrimmed, validateTrimmed)
	_ = v.validate.RegisterValidation(TagTemplateVar, validateTemplateVar)
}

func validateHandoffState(fl validator.FieldLevel) bool {
	_, ok := handoffStates[fl.Field().String()]
	return ok
}

func validateThumb(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "up", "down":
		return true
	}
	return false
}

func validateModelID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // 交给 required
	}
	return strings.IndexFunc(value, unicode.IsSpace) < 0
}

func validateTrimmed(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == strings.TrimSpace(value)
}

func validateTemplateVar(fl validator.FieldLevel) bool {
	return templateVarRegex.MatchString(fl.Field().String())
}

func (v *Validator) registerCustomTranslations() {
	messages := map[string]map[string]string{
		LangEN: {
			TagHandoffState: "{0} must be a valid handoff state",
			TagThumb:        "{0} must be up or down",
			TagModelID:      "{0} must not contain whitespace",
			TagTrimmed:      "{0} must not have leading or trailing spaces",
			TagTemplateVar:  "{0} must be a valid template variable name",
		},
		LangZH: {
			TagHandoffState: "{0}必须是有效的转接状态",
			TagThumb:        "{0}只能是 up 或 down",
			TagModelID:      "{0}不能包含空白字符",
			TagTrimmed:      "{0}不能有前导或尾随空格",
			TagTemplateVar:  "{0}必须是有效的模板变量名",
		},
	}
	for lang, tags := range messages {
		trans := v.trans[lang]
		for tag, msg := range tags {
			registerTranslation(v.validate, trans, tag, msg)
		}
	}
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}
