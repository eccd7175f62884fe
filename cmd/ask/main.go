package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"google.golang.org/genai"

	"github.com/liao/ragbot/internal/ai"
	"github.com/liao/ragbot/internal/config"
	"github.com/liao/ragbot/internal/console"
	"github.com/liao/ragbot/internal/rag"
	"github.com/liao/ragbot/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	question := flag.String("q", "", "ask a single question and exit")
	turns := flag.Int("turns", 5, "conversation turns kept in the REPL")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		cancel()
		os.Exit(0)
	}()

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

	pipeline := rag.NewPipeline(store, aiClient, rag.PipelineOptions{
		Enabled:       cfg.RAG.Enabled,
		TopK:          cfg.RAG.TopK,
		MinSimilarity: cfg.RAG.MinSimilarity,
	})

	out := console.NewMessenger(os.Stdout)
	responder := stream.New(out,
		stream.WithSplitOversized(cfg.Bot.SplitOversized),
		stream.WithErrorText(func(err error) string {
			return fmt.Sprintf(cfg.Bot.ErrorMessage, err)
		}),
	)

	ask := func(q string, history []*genai.Content) stream.Result {
		// 先打出空的回复行，之后的更新都是追加，短回答也能显示
		handle, err := out.Send(ctx, "")
		if err != nil {
			slog.Error("write console failed", "error", err)
			return stream.Result{Err: err}
		}
		res := responder.Respond(ctx, pipeline.Stream(ctx, q, history), handle)
		out.Finish()
		return res
	}

	if *question != "" {
		if res := ask(*question, nil); res.Err != nil {
			os.Exit(1)
		}
		return
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Println(boldGreen("RAG Chat"))
	fmt.Printf("Models: %s, RAG: %s\n", boldCyan(strings.Join(cfg.Gemini.ChatModels, ", ")), boldCyan(pipeline.Enabled()))
	fmt.Println("Type your question and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	var history []*genai.Content
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			break
		}

		res := ask(input, history)
		fmt.Println()
		if res.Err != nil || res.Text == "" {
			continue
		}

		// 只保留最近几轮
		history = append(history,
			genai.NewContentFromText(input, genai.RoleUser),
			genai.NewContentFromText(res.Text, genai.RoleModel),
		)
		if limit := *turns * 2; len(history) > limit {
			history = history[len(history)-limit:]
		}
	}
}
