package biz

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	ctxlog "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/logger"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// Dependencies 管道依赖。
type Dependencies struct {
	Gateway   llm.Gateway
	Reranker  llm.Reranker
	Retriever Retriever
	Chats     store.ChatStore
	Messages  store.MessageStore
	Metrics   *metrics.ChatMetrics
}

// Orchestrator 串联各阶段、持久化一轮对话并归集成本。
// 配置可热更新，每轮开始时取一次快照。
type Orchestrator struct {
	opts atomic.Pointer[chatbot.Options]

	classifier *Classifier
	rewriter   *Rewriter
	builder    *ContextBuilder
	generator  *Generator
	handoff    *HandoffService

	chats    store.ChatStore
	messages store.MessageStore
	metrics  *metrics.ChatMetrics
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts *chatbot.Options, deps Dependencies) *Orchestrator {
	m := deps.Metrics
	if m == nil {
		m = metrics.GetChatMetrics()
	}
	handoff := NewHandoffService(deps.Chats, m)
	o := &Orchestrator{
		classifier: NewClassifier(deps.Gateway, handoff, m),
		rewriter:   NewRewriter(deps.Gateway, deps.Messages, m),
		builder:    NewContextBuilder(deps.Retriever, deps.Reranker, m),
		generator:  NewGenerator(deps.Gateway, m),
		handoff:    handoff,
		chats:      deps.Chats,
		messages:   deps.Messages,
		metrics:    m,
	}
	o.opts.Store(opts)
	return o
}

// Options returns the current pipeline configuration.
func (o *Orchestrator) Options() *chatbot.Options {
	return o.opts.Load()
}

// UpdateOptions 替换配置，进行中的请求继续使用旧快照。
func (o *Orchestrator) UpdateOptions(opts *chatbot.Options) {
	o.opts.Store(opts)
}

// OnConfigChange 热更新入口：补齐默认值并校验，失败时继续使用旧配置。
func (o *Orchestrator) OnConfigChange(newConfig any) error {
	opts, ok := newConfig.(*chatbot.Options)
	if !ok {
		return fmt.Errorf("invalid config type: expected *chatbot.Options, got %T", newConfig)
	}
	if err := opts.Complete(); err != nil {
		return err
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid chatbot configuration: %w", utilerrors.NewAggregate(errs))
	}
	if err := checkConfig(opts); err != nil {
		return err
	}
	o.UpdateOptions(opts)
	logger.Infow("pipeline configuration reloaded", "qa_model", opts.LLM.QA.ModelID, "handoff", opts.HandoffEnabled())
	return nil
}

// Handoff returns the handoff service sharing this orchestrator's store.
func (o *Orchestrator) Handoff() *HandoffService {
	return o.handoff
}

// checkConfig 在任何模型调用之前发现配置错误。
func checkConfig(opts *chatbot.Options) error {
	switch {
	case opts == nil || opts.LLM == nil || opts.LLM.QA == nil:
		return errors.ErrPipelineConfig.WithCause(fmt.Errorf("qa chain is not configured"))
	case opts.LLM.QA.ModelID == "":
		return errors.ErrPipelineConfig.WithCause(fmt.Errorf("qa chain has no model id"))
	case opts.HandoffEnabled() && opts.LLM.Classification == nil:
		return errors.ErrPipelineConfig.WithCause(fmt.Errorf("handoff requires the classification chain"))
	}
	return nil
}

// RunPipeline 处理一轮对话。sink 为 nil 时不流式输出。
// 持久化之前的任何失败都不会写入记录；分类直接回复与内容过滤回复是正常结局。
func (o *Orchestrator) RunPipeline(ctx context.Context, chatID, userID, question string, sink Sink) (result *PipelineResult, err error) {
	opts := o.opts.Load()
	if err := checkConfig(opts); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "pipeline")
	defer span.End()
	span.SetAttributes(tracing.String("chatbot.chat_id", chatID))
	ctx = ctxlog.WithChatID(ctx, chatID)

	shortCircuit := false
	defer func() {
		o.metrics.RecordTurn(shortCircuit, err)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
	}()

	if _, err := o.chats.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}

	// 1. 初始化追踪
	t := newTurn(opts, userID, chatID, sink)
	t.trace.Add("llm_config", opts.LLM)
	t.trace.Add("user_id", userID)
	t.trace.Add("chat_id", chatID)
	t.trace.Add("question", question)
	t.trace.Add("embedding_model_ref_key", opts.EmbeddingModelRefKey)

	// 2. 分类
	classification, err := o.classifier.Classify(ctx, t, question)
	if err != nil {
		return nil, err
	}

	if classification.Label.ShortCircuits() {
		shortCircuit = true
		answer := classification.Response
		t.trace.Add("answer", answer)
		_ = t.sink.send(answer)

		modelID := opts.LLM.QA.ModelID
		if opts.LLM.Classification != nil {
			modelID = opts.LLM.Classification.ModelID
		}
		result, err := o.persist(ctx, t, question, answer, modelID, nil)
		if err != nil {
			return nil, err
		}
		result.Outcome = ShortCircuit{Label: classification.Label, Text: answer}
		ctxlog.FromContext(ctx).Infow("turn answered from classification", "label", classification.Label)
		return result, nil
	}

	// 3. 改写、检索、生成
	standalone := question
	if opts.LLM.Standalone != nil {
		standalone = o.rewriter.Rewrite(ctx, t, question)
		t.trace.Add("standalone_question", standalone)
	}

	contextText, docs, err := o.builder.Build(ctx, t, standalone, classification.Label)
	if err != nil {
		return nil, err
	}

	answer, err := o.generator.Answer(ctx, t, standalone, contextText, classification.Label)
	if err != nil {
		return nil, err
	}
	t.trace.Add("answer", answer)
	t.trace.Add("documents", docs)

	// 4. 持久化与成本
	result, err = o.persist(ctx, t, question, answer, opts.LLM.QA.ModelID, docs)
	if err != nil {
		return nil, err
	}
	result.Outcome = FullAnswer{Text: answer, Sources: docs}
	ctxlog.FromContext(ctx).Infow("turn answered", "label", classification.Label, "documents", len(docs))
	return result, nil
}

// persist 写入一问一答，再累加成本。成本写入失败只记录日志。
func (o *Orchestrator) persist(ctx context.Context, t *turn, question, answer, modelID string, docs []*Document) (*PipelineResult, error) {
	in, out := t.tokens()
	human := &model.Message{
		ChatID:  t.chatID,
		UserID:  t.userID,
		Type:    model.MessageHuman,
		Content: question,
		Tokens:  in,
		ModelID: modelID,
	}
	ai := &model.Message{
		ChatID:  t.chatID,
		UserID:  t.userID,
		Type:    model.MessageAI,
		Content: answer,
		Tokens:  out,
		ModelID: modelID,
		Sources: toSources(docs),
	}

	if err := o.messages.AppendTurn(ctx, human, ai); err != nil {
		if errors.IsCode(err, errors.ErrChatNotFound.Code) {
			return nil, err
		}
		return nil, errors.ErrPersistFailed.WithCause(err)
	}

	totals := CostOf(t.opts, t.usage)
	if err := o.chats.AddCost(ctx, t.userID, t.chatID, totals); err != nil {
		logger.Warnw("failed to add cost", "chat_id", t.chatID, "error", err.Error())
	} else {
		o.metrics.RecordCost(totals.Cost)
	}
	t.trace.Add("usage", t.usage)

	return &PipelineResult{
		Question: human,
		Answer:   ai,
		Sources:  ai.Sources,
		Trace:    t.trace,
	}, nil
}

func toSources(docs []*Document) []*model.Source {
	if len(docs) == 0 {
		return nil
	}
	sources := make([]*model.Source, len(docs))
	for i, d := range docs {
		sources[i] = &model.Source{
			PageContent: d.PageContent,
			Metadata:    d.Metadata,
			Score:       d.Score,
			Rank:        i,
		}
	}
	return sources
}
