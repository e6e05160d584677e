package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/id"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

const (
	frameChunk   = "chunk"
	frameDiscard = "discard"
	frameResult  = "result"
	frameError   = "error"

	wsWriteWait     = 10 * time.Second
	defaultPongWait = 60 * time.Second
)

// streamFrame 服务端下发的一帧。
type streamFrame struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chatId"`
	MessageID string          `json:"messageId,omitempty"`
	Chunks    []string        `json:"chunks,omitempty"`
	Result    *AnswerResponse `json:"result,omitempty"`
	Code      int             `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// wsStream 串行化对连接的写入。
type wsStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsStream) write(f *streamFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsStream) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *wsStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	_ = s.conn.Close()
}

func (h *MessageHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin 无 Origin 或同源时放行，否则必须在允许列表中。
func (h *MessageHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Stream handles GET /v1/chats/:chatId/stream.
// 客户端每发送一个 {question}，服务端先推送若干 chunk 帧，最后推送一个 result 或 error 帧。
// 分片推送后答案被丢弃时，result 之前先推送一个 discard 帧。
func (h *MessageHandler) Stream(c *gin.Context) {
	if !h.pipeline.Options().Streaming {
		response.Fail(c, errors.ErrForbidden.WithMessage("streaming is disabled"))
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写出 HTTP 错误
		logger.Warnw("websocket upgrade failed", "error", err.Error())
		return
	}
	s := &wsStream{conn: conn}
	defer s.close()

	extendRead := func() error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
	conn.SetReadLimit(maxQuestionLength * 4)
	_ = extendRead()
	conn.SetPongHandler(func(string) error { return extendRead() })

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go keepAlive(ctx, s, h.pongWait*9/10)

	chatID, userID := c.Param("chatId"), middleware.UserID(c)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("websocket read ended", "chat_id", chatID, "error", err.Error())
			}
			return
		}
		var req QuestionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			e := errors.ErrBadRequest.WithMessage("frame must be a JSON object with a question")
			err = s.write(&streamFrame{Type: frameError, ChatID: chatID, Code: e.Code, Message: e.MessageEN})
		} else {
			err = h.answer(ctx, s, chatID, userID, &req)
		}
		if err != nil {
			logger.Warnw("websocket write failed", "chat_id", chatID, "error", err.Error())
			return
		}
		// 管道运行期间没有读取，pong 无法续期，回到读循环前重新计时
		_ = extendRead()
	}
}

// answer 运行一轮管道，只在连接写失败时返回错误。
func (h *MessageHandler) answer(ctx context.Context, s *wsStream, chatID, userID string, req *QuestionRequest) error {
	question := strings.TrimSpace(req.Question)
	if question == "" || len(question) > maxQuestionLength {
		e := errors.ErrInvalidParam.WithMessage("question must be 1-8192 characters")
		return s.write(&streamFrame{Type: frameError, ChatID: chatID, Code: e.Code, Message: e.MessageEN})
	}

	// 流式帧使用临时 ID，结果帧携带落库后的消息 ID
	streamID := id.NewULID()
	streamed := false
	sink := biz.SinkFunc(func(chunk string) error {
		streamed = true
		return s.write(&streamFrame{Type: frameChunk, ChatID: chatID, MessageID: streamID, Chunks: []string{chunk}})
	})

	result, err := h.pipeline.RunPipeline(ctx, chatID, userID, question, sink)
	if err != nil {
		e := errors.FromError(err)
		return s.write(&streamFrame{Type: frameError, ChatID: chatID, MessageID: streamID, Code: e.Code, Message: e.MessageEN})
	}
	// 已推送的分片因停止原因不可接受被丢弃，落库的答案为空，通知客户端清除
	if streamed && result.Answer.Content == "" {
		if err := s.write(&streamFrame{Type: frameDiscard, ChatID: chatID, MessageID: streamID}); err != nil {
			return err
		}
	}
	return s.write(&streamFrame{
		Type:      frameResult,
		ChatID:    chatID,
		MessageID: result.Answer.ID,
		Result:    newAnswerResponse(result),
	})
}

func keepAlive(ctx context.Context, s *wsStream, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}
