package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// step 网关按调用顺序返回的一个结果。
type step struct {
	text   string
	stop   llm.StopReason
	in     int
	out    int
	chunks []string
	err    error
}

func reply(text string) step {
	return step{text: text, stop: llm.StopEndTurn, in: 10, out: 5}
}

type fakeGateway struct {
	mu    sync.Mutex
	steps []step
	reqs  []*llm.Request
	// streamed 记录哪些调用走了流式
	streamed []bool
}

func newGateway(steps ...step) *fakeGateway {
	return &fakeGateway{steps: steps}
}

func (g *fakeGateway) next(req *llm.Request, stream bool) step {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	g.streamed = append(g.streamed, stream)
	if len(g.steps) == 0 {
		return step{err: fmt.Errorf("unexpected model call %d", len(g.reqs))}
	}
	s := g.steps[0]
	g.steps = g.steps[1:]
	return s
}

func (s step) response(modelID string) *llm.Response {
	text := s.text
	if text == "" && len(s.chunks) > 0 {
		text = strings.Join(s.chunks, "")
	}
	stop := s.stop
	if stop == "" {
		stop = llm.StopEndTurn
	}
	return &llm.Response{ModelID: modelID, Text: text, StopReason: stop, InputTokens: s.in, OutputTokens: s.out}
}

func (g *fakeGateway) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s := g.next(req, false)
	if s.err != nil {
		return nil, s.err
	}
	return s.response(req.ModelID), nil
}

func (g *fakeGateway) GenerateStream(_ context.Context, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	s := g.next(req, true)
	chunks := s.chunks
	if len(chunks) == 0 && s.text != "" {
		chunks = []string{s.text}
	}
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.response(req.ModelID), nil
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reqs)
}

type fakeRetriever struct {
	docs    []*Document
	err     error
	queries []*Query
}

func (r *fakeRetriever) Retrieve(_ context.Context, q *Query) ([]*Document, error) {
	r.queries = append(r.queries, q)
	return r.docs, r.err
}

type fakeReranker struct {
	results []llm.RerankResult
	err     error
	reqs    []*llm.RerankRequest
}

func (r *fakeReranker) Rerank(_ context.Context, req *llm.RerankRequest) ([]llm.RerankResult, error) {
	r.reqs = append(r.reqs, req)
	return r.results, r.err
}

type recordingSink struct {
	chunks []string
	// failAfter 投递这么多片后开始失败，0 表示从不失败
	failAfter int
	attempts  int
}

func (s *recordingSink) Send(chunk string) error {
	s.attempts++
	if s.failAfter > 0 && len(s.chunks) >= s.failAfter {
		return fmt.Errorf("connection gone")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

// memStore 内存版会话存储，可注入 CAS 冲突与写入失败。
type memStore struct {
	mu        sync.Mutex
	chats     map[string]*model.Chat
	messages  []*model.Message
	seq       int
	appendErr error
	// conflicts SetHandoffState 在成功前先返回多少次冲突，并模拟其它请求改写状态
	conflicts     int
	conflictState model.HandoffState
}

func newMemStore() *memStore {
	return &memStore{chats: make(map[string]*model.Chat)}
}

func (s *memStore) addChat(userID, chatID string) *model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.Chat{ID: chatID, UserID: userID, HandoffState: model.HandoffNone}
	s.chats[chatID] = c
	return c
}

func (s *memStore) chat(userID, chatID string) (*model.Chat, error) {
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, errors.ErrChatNotFound
	}
	return c, nil
}

func (s *memStore) Create(_ context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.ID == "" {
		s.seq++
		chat.ID = fmt.Sprintf("c%03d", s.seq)
	}
	if chat.HandoffState == "" {
		chat.HandoffState = model.HandoffNone
	}
	s.chats[chat.ID] = chat
	return nil
}

func (s *memStore) Get(_ context.Context, userID, chatID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) List(_ context.Context, userID string) ([]*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Chat
	for _, c := range s.chats {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateTitle(_ context.Context, userID, chatID, title string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return nil, err
	}
	c.Title = title
	cp := *c
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.chat(userID, chatID); err != nil {
		return err
	}
	delete(s.chats, chatID)
	return nil
}

func (s *memStore) IncrementHandoffCounter(_ context.Context, userID, chatID string) (int, model.HandoffState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return 0, "", err
	}
	c.HandoffRequests++
	return c.HandoffRequests, c.HandoffState, nil
}

func (s *memStore) SetHandoffState(_ context.Context, userID, chatID string, expected, next model.HandoffState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		c.HandoffState = s.conflictState
		return errors.ErrConcurrentUpdate
	}
	if c.HandoffState != expected {
		return errors.ErrConcurrentUpdate
	}
	c.HandoffState = next
	return nil
}

func (s *memStore) PopulateHandoff(_ context.Context, userID, chatID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return err
	}
	c.HandoffObject = summary
	return nil
}

func (s *memStore) AddCost(_ context.Context, userID, chatID string, delta model.CostTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.chat(userID, chatID)
	if err != nil {
		return err
	}
	c.InputTokens += delta.InputTokens
	c.OutputTokens += delta.OutputTokens
	c.Cost += delta.Cost
	return nil
}

func (s *memStore) AppendTurn(_ context.Context, human, ai *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if _, err := s.chat(human.UserID, human.ChatID); err != nil {
		return err
	}
	for _, m := range []*model.Message{human, ai} {
		s.seq++
		m.ID = fmt.Sprintf("m%03d", s.seq)
		m.CreatedAt = int64(s.seq)
		s.messages = append(s.messages, m)
	}
	for i, src := range ai.Sources {
		src.MessageID = ai.ID
		src.ChatID = ai.ChatID
		src.Rank = i
	}
	return nil
}

func (s *memStore) chatMessages(userID, chatID string) []*model.Message {
	var out []*model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func (s *memStore) ListRecent(_ context.Context, userID, chatID string, limit int) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.chatMessages(userID, chatID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *memStore) ListMessages(userID, chatID string) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatMessages(userID, chatID)
}

// List 用下标作为游标。
func (s *memStore) ListPage(userID, chatID, token string, limit int) *model.MessagePage {
	msgs := s.ListMessages(userID, chatID)
	start := 0
	if token != "" {
		_, _ = fmt.Sscanf(token, "%d", &start)
	}
	end := min(start+limit, len(msgs))
	p := &model.MessagePage{Messages: msgs[start:end]}
	if end < len(msgs) {
		p.NextToken = fmt.Sprintf("%d", end)
	}
	return p
}

func (s *memStore) ListSources(_ context.Context, userID, chatID, messageID string) ([]*model.Source, error) {
	for _, m := range s.ListMessages(userID, chatID) {
		if m.ID == messageID {
			return m.Sources, nil
		}
	}
	return nil, errors.ErrMessageNotFound
}

func (s *memStore) DeleteMessage(string, string, string) error { return nil }

func (s *memStore) UpdateFeedback(context.Context, string, string, string, string, string) error {
	return nil
}

// messageStore 把 memStore 适配为 store.MessageStore（与 ChatStore 的 List/Delete 同名）。
type messageStore struct{ *memStore }

func (m messageStore) List(_ context.Context, userID, chatID, token string, limit int) (*model.MessagePage, error) {
	return m.ListPage(userID, chatID, token, limit), nil
}

func (m messageStore) Delete(_ context.Context, userID, chatID, messageID string) error {
	return m.DeleteMessage(userID, chatID, messageID)
}

// testOptions 三条链路都配置、转接关闭。
func testOptions() *chatbot.Options {
	opts := chatbot.NewOptions()
	opts.LLM.Classification.PromptTemplate = "classify: $question"
	opts.LLM.Standalone.PromptTemplate = "history:$chat_history\nq: $question"
	opts.LLM.QA.PromptTemplate = "ctx: $context\nq: $question"
	opts.Handoff.Enabled = false
	_ = opts.Complete()
	return opts
}

type harness struct {
	opts      *chatbot.Options
	gateway   *fakeGateway
	retriever *fakeRetriever
	reranker  *fakeReranker
	store     *memStore
	metrics   *metrics.ChatMetrics
	orch      *Orchestrator
}

func newHarness(opts *chatbot.Options, steps ...step) *harness {
	h := &harness{
		opts:      opts,
		gateway:   newGateway(steps...),
		retriever: &fakeRetriever{},
		reranker:  &fakeReranker{},
		store:     newMemStore(),
		metrics:   metrics.New(),
	}
	h.store.addChat("u1", "c1")
	h.orch = NewOrchestrator(opts, Dependencies{
		Gateway:   h.gateway,
		Reranker:  h.reranker,
		Retriever: h.retriever,
		Chats:     h.store,
		Messages:  messageStore{h.store},
		Metrics:   h.metrics,
	})
	return h
}

func (h *harness) turn(sink Sink) *turn {
	return newTurn(h.opts, "u1", "c1", sink)
}
