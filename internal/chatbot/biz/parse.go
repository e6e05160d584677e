package biz

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

const classificationSchemaURL = "mem://chatbot/classification.json"

const classificationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["classification_type"],
  "properties": {
    "classification_type": {
      "type": "string",
      "enum": ["promotion", "greetings_farewells", "unrelated", "question", "handoff_request"]
    },
    "response": {"type": "string"},
    "language": {"type": "string"}
  }
}`

var compileClassificationSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(classificationSchemaURL, strings.NewReader(classificationSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile(classificationSchemaURL)
})

// ParseClassification 解析分类模型输出。输出不是合法 JSON 或不符合约定结构时 ok 为 false，
// 调用方按 question 处理。
func ParseClassification(raw string) (*ClassificationResult, bool) {
	body := extractJSON(raw)
	if body == "" {
		return nil, false
	}

	var payload any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, false
	}
	schema, err := compileClassificationSchema()
	if err != nil {
		return nil, false
	}
	if err := schema.Validate(payload); err != nil {
		return nil, false
	}

	fields := payload.(map[string]any)
	result := &ClassificationResult{Label: Label(fields["classification_type"].(string))}
	if s, ok := fields["response"].(string); ok {
		result.Response = s
	}
	if s, ok := fields["language"].(string); ok {
		result.Language = strings.TrimSpace(s)
	}
	return result, true
}

// ParseStandalone 解析改写模型输出：JSON 对象取 question 或 standalone_question，
// 其它形状原样返回；结果为空时返回原问题。
func ParseStandalone(raw, original string) string {
	out := raw
	if body := extractJSON(raw); body != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(body), &fields); err == nil {
			if s, ok := fields["question"].(string); ok {
				out = s
			} else if s, ok := fields["standalone_question"].(string); ok {
				out = s
			}
		}
	}
	if strings.TrimSpace(out) == "" {
		return original
	}
	return strings.TrimSpace(out)
}

// extractJSON 去掉 markdown 代码块，截取最外层的 {...}。
// 第一个 JSON 值是数组时返回空串，数组内的对象不算作合法输出。
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	if arr := strings.IndexByte(s, '['); arr >= 0 && arr < start {
		return ""
	}
	return s[start : end+1]
}
