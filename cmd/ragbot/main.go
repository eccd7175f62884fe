package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"

	"github.com/liao/ragbot/internal/ai"
	"github.com/liao/ragbot/internal/bot"
	"github.com/liao/ragbot/internal/chat"
	"github.com/liao/ragbot/internal/config"
	"github.com/liao/ragbot/internal/persona"
	"github.com/liao/ragbot/internal/rag"
	"github.com/liao/ragbot/internal/retry"
	"github.com/liao/ragbot/internal/slackbot"
	"github.com/liao/ragbot/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gemini 客户端
	aiClient, err := ai.NewClient(ctx,
		cfg.Gemini.APIKey,
		cfg.Gemini.ChatModels,
		cfg.Gemini.EmbeddingModel,
		cfg.Gemini.Temperature,
		cfg.Gemini.MaxOutputTokens,
		cfg.Gemini.RPMLimit,
	)
	if err != nil {
		slog.Error("create AI client failed", "error", err)
		os.Exit(1)
	}
	slog.Info("AI client initialized", "models", cfg.Gemini.ChatModels)

	// 向量存储 + RAG
	var store rag.Store
	if cfg.RAG.Enabled {
		store, err = rag.OpenStore(ctx, cfg.RAG, cfg.Qdrant, aiClient.EmbedFunc())
		if err != nil {
			slog.Warn("load vector store failed, RAG disabled", "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	// Persona
	var p *persona.Persona
	if cfg.Bot.PersonaFile != "" {
		p, err = persona.LoadFromFile(cfg.Bot.PersonaFile)
		if err != nil {
			slog.Warn("load persona failed, using default", "error", err)
		}
	}

	pipeline := rag.NewPipeline(store, aiClient, rag.PipelineOptions{
		Enabled:       cfg.RAG.Enabled,
		TopK:          cfg.RAG.TopK,
		MinSimilarity: cfg.RAG.MinSimilarity,
		SystemPrompt:  p.FormatSystemInstruction(),
	})
	slog.Info("answer pipeline ready", "rag", pipeline.Enabled())

	handlerOpts := []bot.HandlerOption{
		bot.WithLogger(logger),
		bot.WithThinkingMessage(cfg.Bot.ThinkingMessage),
		bot.WithErrorMessage(cfg.Bot.ErrorMessage),
		bot.WithStreamOptions(stream.WithSplitOversized(cfg.Bot.SplitOversized)),
	}

	// 会话管理
	var chatMgr *chat.Manager
	if cfg.Bot.MaxContextTurns > 0 {
		chatMgr, err = chat.NewManager(cfg.Bot.MaxContextTurns, cfg.Bot.SessionsDir)
		if err != nil {
			slog.Error("create chat manager failed", "error", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, bot.WithChat(chatMgr))
		go pruneSessions(ctx, chatMgr)
	}

	handler := bot.NewHandler(pipeline, handlerOpts...)

	switch cfg.Bot.Platform {
	case config.PlatformQQ:
		runQQ(ctx, cancel, cfg, handler, chatMgr)
	default:
		runSlack(ctx, cfg, handler, logger, chatMgr)
	}
}

func runSlack(ctx context.Context, cfg *config.Config, handler *bot.Handler, logger *slog.Logger, chatMgr *chat.Manager) {
	api := slack.New(cfg.Slack.BotToken)
	policy := retry.NewPolicy(cfg.Slack.SuppressedRetryReasons...)
	srv := slackbot.NewServer(api, handler, slackbot.Options{
		SigningSecret:         cfg.Slack.SigningSecret,
		ProcessBeforeResponse: cfg.Server.ProcessBeforeResponse,
		Policy:                policy,
		Logger:                logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("slack bot listening",
			"addr", cfg.Server.Addr,
			"process_before_response", cfg.Server.ProcessBeforeResponse,
			"suppressed_retry_reasons", policy.Reasons(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅关闭
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	srv.Wait()
	saveSessions(chatMgr)
}

func runQQ(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, handler *bot.Handler, chatMgr *chat.Manager) {
	b := bot.NewQQBot(cfg.NapCat, handler)

	// 优雅关闭
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down...")
		b.Stop()
		saveSessions(chatMgr)
		cancel()
		os.Exit(0)
	}()

	b.Run(ctx)
}

func pruneSessions(ctx context.Context, m *chat.Manager) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(24 * time.Hour); n > 0 {
				slog.Info("pruned idle sessions", "count", n)
			}
		}
	}
}

func saveSessions(m *chat.Manager) {
	if m == nil {
		return
	}
	if err := m.Save(); err != nil {
		slog.Error("save session failed", "error", err)
	}
}
