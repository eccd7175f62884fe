package stream

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"unicode/utf8"
)

const (
	// MaxMessageLength 平台单条消息上限
	MaxMessageLength = 2000
	// UpdateThreshold 新增超过这么多字符才更新一次消息
	UpdateThreshold = 20
)

// Messenger 发送/更新消息的外部通道，已绑定到具体的频道和线程
type Messenger interface {
	Send(ctx context.Context, text string) (string, error)
	Update(ctx context.Context, handle, text string) error
}

// Result 一次流式回复的汇总，供调用方记录日志
type Result struct {
	Text     string // 最终展示的文本；出错时为空
	Sends    int
	Updates  int
	Notified bool // 是否发出了错误提示
	Err      error
}

type Responder struct {
	messenger      Messenger
	logger         *slog.Logger
	maxLen         int
	threshold      int
	splitOversized bool
	errorText      func(error) string
}

type Option func(*Responder)

// WithLimits 覆盖长度上限和更新阈值
func WithLimits(maxLen, threshold int) Option {
	return func(r *Responder) {
		if maxLen > 0 {
			r.maxLen = maxLen
		}
		if threshold >= 0 {
			r.threshold = threshold
		}
	}
}

// WithSplitOversized 单个片段超过上限时拆成多条发送，而不是整段发出去
func WithSplitOversized(split bool) Option {
	return func(r *Responder) { r.splitOversized = split }
}

func WithErrorText(f func(error) string) Option {
	return func(r *Responder) {
		if f != nil {
			r.errorText = f
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(m Messenger, opts ...Option) *Responder {
	r := &Responder{
		messenger: m,
		logger:    slog.Default(),
		maxLen:    MaxMessageLength,
		threshold: UpdateThreshold,
		errorText: func(err error) string {
			return fmt.Sprintf("エラーが発生しました: %v", err)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// state 单次回复的投递状态，flushed <= length 恒成立
type state struct {
	text    string
	length  int // text 的字符数
	flushed int
	active  string // 当前消息句柄，空表示还没发过
}

// Respond 逐个消费片段并驱动发送/更新。initial 为已发出的占位消息句柄，可为空。
func (r *Responder) Respond(ctx context.Context, fragments iter.Seq2[string, error], initial string) Result {
	var res Result
	st := &state{active: initial}

	for c, err := range fragments {
		if err != nil {
			return r.fail(ctx, res, fmt.Errorf("consume stream: %w", err))
		}
		if c == "" {
			continue
		}
		if err := r.push(ctx, st, c, &res); err != nil {
			return r.fail(ctx, res, err)
		}
	}

	// 收尾：还有没刷出去的内容
	if st.length > st.flushed && st.active != "" {
		if err := r.messenger.Update(ctx, st.active, st.text); err != nil {
			return r.fail(ctx, res, fmt.Errorf("final update: %w", err))
		}
		st.flushed = st.length
		res.Updates++
	}

	if st.active != "" {
		res.Text = st.text
	}
	r.logger.Debug("stream response done", "sends", res.Sends, "updates", res.Updates, "length", st.length)
	return res
}

func (r *Responder) push(ctx context.Context, st *state, c string, res *Result) error {
	st.text += c
	st.length += utf8.RuneCountInString(c)

	switch {
	case st.length > r.maxLen:
		// 超长：丢弃当前消息里的内容，从这个片段开始新消息
		st.text = c
		st.length = utf8.RuneCountInString(c)
		st.flushed = st.length
		return r.startMessage(ctx, st, res)

	case st.length-st.flushed > r.threshold:
		if st.active == "" {
			handle, err := r.messenger.Send(ctx, st.text)
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			st.active = handle
			res.Sends++
		} else {
			if err := r.messenger.Update(ctx, st.active, st.text); err != nil {
				return fmt.Errorf("update message: %w", err)
			}
			res.Updates++
		}
		st.flushed = st.length
	}
	return nil
}

func (r *Responder) startMessage(ctx context.Context, st *state, res *Result) error {
	if !r.splitOversized || st.length <= r.maxLen {
		handle, err := r.messenger.Send(ctx, st.text)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		st.active = handle
		res.Sends++
		return nil
	}

	chunks := splitRunes(st.text, r.maxLen)
	for _, chunk := range chunks {
		handle, err := r.messenger.Send(ctx, chunk)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		st.active = handle
		res.Sends++
	}
	// 之后的更新只作用在最后一段上
	last := chunks[len(chunks)-1]
	st.text = last
	st.length = utf8.RuneCountInString(last)
	st.flushed = st.length
	return nil
}

// fail 放弃已累积的文本，尽力发一条错误提示
func (r *Responder) fail(ctx context.Context, res Result, err error) Result {
	r.logger.Error("stream response failed", "error", err)
	res.Err = err
	res.Text = ""

	if _, sendErr := r.messenger.Send(context.WithoutCancel(ctx), r.errorText(err)); sendErr != nil {
		r.logger.Warn("send error notice failed", "error", sendErr)
		return res
	}
	res.Notified = true
	return res
}

func splitRunes(s string, size int) []string {
	var chunks []string
	runes := []rune(s)
	for len(runes) > size {
		chunks = append(chunks, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
