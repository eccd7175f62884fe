package bot

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/liao/ragbot/internal/chat"
	"github.com/liao/ragbot/internal/stream"
)

var mentionRe = regexp.MustCompile(`<@[^>]*>`)

// RemoveMention 去掉 <@U123> 形式的提及
func RemoveMention(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// Mention 平台无关的入站提及事件
type Mention struct {
	Channel  string
	ThreadTS string // 为空表示平台没有线程概念
	User     string
	Text     string
}

// ThreadKey 对话历史的键
func (m Mention) ThreadKey() string {
	return m.Channel + "/" + m.ThreadTS
}

// Answerer 给出回答的片段序列，由 rag.Pipeline 实现
type Answerer interface {
	Stream(ctx context.Context, question string, history []*genai.Content) iter.Seq2[string, error]
}

type Handler struct {
	answerer     Answerer
	chat         *chat.Manager
	logger       *slog.Logger
	thinking     string
	errorMessage string
	streamOpts   []stream.Option
}

type HandlerOption func(*Handler)

// WithChat 启用线程对话历史
func WithChat(m *chat.Manager) HandlerOption {
	return func(h *Handler) { h.chat = m }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithThinkingMessage 先发一条占位消息，回答会直接更新它；空串表示不发
func WithThinkingMessage(text string) HandlerOption {
	return func(h *Handler) { h.thinking = text }
}

// WithErrorMessage 出错时发给用户的文本，含一个 %v
func WithErrorMessage(format string) HandlerOption {
	return func(h *Handler) {
		if format != "" {
			h.errorMessage = format
		}
	}
}

func WithStreamOptions(opts ...stream.Option) HandlerOption {
	return func(h *Handler) { h.streamOpts = append(h.streamOpts, opts...) }
}

func NewHandler(answerer Answerer, opts ...HandlerOption) *Handler {
	h := &Handler{
		answerer:     answerer,
		logger:       slog.Default(),
		errorMessage: "エラーが発生しました: %v",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMention 处理一次提及：发占位消息、流式回答、记录历史
func (h *Handler) HandleMention(ctx context.Context, ev Mention, m stream.Messenger) stream.Result {
	logger := h.logger.With("channel", ev.Channel, "thread", ev.ThreadTS)

	payload := RemoveMention(ev.Text)
	if payload == "" {
		logger.Debug("empty mention, skipping")
		return stream.Result{}
	}
	logger.Info("received mention", "user", ev.User, "text", payload)

	var placeholder string
	if h.thinking != "" {
		handle, err := m.Send(ctx, h.thinking)
		if err != nil {
			// 占位消息失败不影响回答，第一次刷新时会新发一条
			logger.Warn("send thinking message failed", "error", err)
		} else {
			placeholder = handle
		}
	}

	var history []*genai.Content
	if h.chat != nil {
		history = h.chat.GetHistory(ev.ThreadKey())
	}

	opts := append([]stream.Option{
		stream.WithLogger(logger),
		stream.WithErrorText(func(err error) string {
			return fmt.Sprintf(h.errorMessage, err)
		}),
	}, h.streamOpts...)

	res := stream.New(m, opts...).Respond(ctx, h.answerer.Stream(ctx, payload, history), placeholder)
	if res.Err != nil {
		return res
	}
	logger.Info("answered mention", "sends", res.Sends, "updates", res.Updates)

	if h.chat != nil && res.Text != "" {
		h.chat.AddTurn(ev.ThreadKey(), payload, res.Text)
		if err := h.chat.Save(); err != nil {
			logger.Error("save session failed", "error", err)
		}
	}
	return res
}
