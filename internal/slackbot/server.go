package slackbot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/liao/ragbot/internal/bot"
	"github.com/liao/ragbot/internal/retry"
	"github.com/liao/ragbot/internal/stream"
)

const maxBodyBytes = 1 << 20

// MentionHandler 由 bot.Handler 实现
type MentionHandler interface {
	HandleMention(ctx context.Context, ev bot.Mention, m stream.Messenger) stream.Result
}

var _ MentionHandler = (*bot.Handler)(nil)

type Server struct {
	api                   Poster
	handler               MentionHandler
	policy                *retry.Policy
	signingSecret         string
	processBeforeResponse bool
	logger                *slog.Logger
	wg                    sync.WaitGroup
}

type Options struct {
	SigningSecret string
	// 为 true 时同步处理完事件才返回 200
	ProcessBeforeResponse bool
	Policy                *retry.Policy
	Logger                *slog.Logger
}

func NewServer(api Poster, handler MentionHandler, opts Options) *Server {
	s := &Server{
		api:                   api,
		handler:               handler,
		policy:                opts.Policy,
		signingSecret:         opts.SigningSecret,
		processBeforeResponse: opts.ProcessBeforeResponse,
		logger:                opts.Logger,
	}
	if s.policy == nil {
		s.policy = retry.NewPolicy()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes 注册路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello world")
	})
	r.Post("/slack/events", s.handleEvents)
	return r
}

// Wait 等待后台处理中的事件结束
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	if err := s.verify(r.Header, body); err != nil {
		s.logger.Warn("slack signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.logger.Warn("parse slack event failed", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var cr slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			http.Error(w, "invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, cr.Challenge)

	case slackevents.CallbackEvent:
		rc := retry.FromHeader(r.Header)
		if s.policy.ShouldDrop(rc) {
			// 上一次投递还在处理，只回 200
			s.logger.Info("dropping timeout retry", "retry_num", rc.RetryCount, "retry_reason", rc.RetryReason)
			w.WriteHeader(http.StatusOK)
			return
		}
		s.dispatch(w, r, ev)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev slackevents.EventsAPIEvent) {
	mention, ok := ev.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		s.logger.Debug("ignoring event", "type", ev.InnerEvent.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	m := bot.Mention{
		Channel:  mention.Channel,
		ThreadTS: threadOf(mention),
		User:     mention.User,
		Text:     mention.Text,
	}
	messenger := NewThreadMessenger(s.api, m.Channel, m.ThreadTS)
	// 请求结束后 r.Context() 会被取消，处理过程不能跟着中断
	ctx := context.WithoutCancel(r.Context())

	if s.processBeforeResponse {
		s.handler.HandleMention(ctx, m, messenger)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handler.HandleMention(ctx, m, messenger)
	}()
}

func (s *Server) verify(header http.Header, body []byte) error {
	sv, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// threadOf 回复到原线程；不在线程里就以这条消息开线程
func threadOf(ev *slackevents.AppMentionEvent) string {
	if ev.ThreadTimeStamp != "" {
		return ev.ThreadTimeStamp
	}
	return ev.TimeStamp
}
