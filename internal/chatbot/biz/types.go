// Package biz 对话管道：分类、问题改写、检索重排、答案生成、人工转接与成本归集。
package biz

import (
	"context"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
)

// Label 分类结果。
type Label string

const (
	LabelPromotion          Label = "promotion"
	LabelGreetingsFarewells Label = "greetings_farewells"
	LabelUnrelated          Label = "unrelated"
	LabelQuestion           Label = "question"
	LabelHandoffRequest     Label = "handoff_request"
)

// ShortCircuits reports whether a turn with this label is answered from classification alone.
func (l Label) ShortCircuits() bool {
	switch l {
	case LabelGreetingsFarewells, LabelUnrelated, LabelHandoffRequest:
		return true
	}
	return false
}

// ClassificationResult 一次分类的结果，只在本轮内使用。
type ClassificationResult struct {
	Label    Label  `json:"classification_type"`
	Response string `json:"response,omitempty"`
	Language string `json:"language,omitempty"`
	// HandoffState 仅 handoff_request 且启用转接时设置
	HandoffState model.HandoffState `json:"handoff_state,omitempty"`
}

// Document 检索到的一篇文档。
type Document struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	// Score 相似度；重排后为重排分数
	Score float64 `json:"score"`
}

// Query 语料检索请求。Limit > 0 时按数量检索，否则按 Threshold 过滤。
type Query struct {
	Text        string
	Limit       int
	Threshold   float64
	ModelRefKey string
}

// Retriever 语料检索。
type Retriever interface {
	Retrieve(ctx context.Context, q *Query) ([]*Document, error)
}

// Sink 流式输出的接收方。
type Sink interface {
	Send(chunk string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(chunk string) error

func (f SinkFunc) Send(chunk string) error { return f(chunk) }

// PipelineOutcome 一轮的结局：ShortCircuit 或 FullAnswer。
type PipelineOutcome interface {
	outcome()
}

// ShortCircuit 分类阶段直接给出的回复。
type ShortCircuit struct {
	Label Label
	Text  string
}

// FullAnswer 经过检索与生成的回答。
type FullAnswer struct {
	Text    string
	Sources []*Document
}

func (ShortCircuit) outcome() {}
func (FullAnswer) outcome()   {}

// OutcomeText returns the answer text of either outcome.
func OutcomeText(o PipelineOutcome) string {
	switch v := o.(type) {
	case ShortCircuit:
		return v.Text
	case FullAnswer:
		return v.Text
	}
	return ""
}

// PipelineResult RunPipeline 的返回值。
type PipelineResult struct {
	Question *model.Message
	Answer   *model.Message
	Sources  []*model.Source
	Trace    *Trace
	Outcome  PipelineOutcome
}
