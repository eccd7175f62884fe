package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PlatformSlack = "slack"
	PlatformQQ    = "qq"

	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Slack  SlackConfig  `mapstructure:"slack"`
	NapCat NapCatConfig `mapstructure:"napcat"`
	Gemini GeminiConfig `mapstructure:"gemini"`
	RAG    RAGConfig    `mapstructure:"rag"`
	Qdrant QdrantConfig `mapstructure:"qdrant"`
	Bot    BotConfig    `mapstructure:"bot"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// 为 true 时处理完事件才返回 200，慢的时候 Slack 会以 http_timeout 重投
	ProcessBeforeResponse bool `mapstructure:"process_before_response"`
}

type SlackConfig struct {
	BotToken               string   `mapstructure:"bot_token"`
	SigningSecret          string   `mapstructure:"signing_secret"`
	SuppressedRetryReasons []string `mapstructure:"suppressed_retry_reasons"`
}

type NapCatConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
	OwnerQQ     int64  `mapstructure:"owner_qq"`
}

type GeminiConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	ChatModels      []string `mapstructure:"chat_models"`
	EmbeddingModel  string   `mapstructure:"embedding_model"`
	Temperature     float32  `mapstructure:"temperature"`
	MaxOutputTokens int32    `mapstructure:"max_output_tokens"`
	RPMLimit        int      `mapstructure:"rpm_limit"`
}

type RAGConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Backend       string  `mapstructure:"backend"`
	VectorsDir    string  `mapstructure:"vectors_dir"`
	Collection    string  `mapstructure:"collection"`
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float32 `mapstructure:"min_similarity"`
	ChunkSize     int     `mapstructure:"chunk_size"`
	ChunkOverlap  int     `mapstructure:"chunk_overlap"`
	Dimension     int     `mapstructure:"dimension"`
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type BotConfig struct {
	Platform        string `mapstructure:"platform"`
	ThinkingMessage string `mapstructure:"thinking_message"`
	ErrorMessage    string `mapstructure:"error_message"` // 含一个 %v 占位
	SplitOversized  bool   `mapstructure:"split_oversized"`
	MaxContextTurns int    `mapstructure:"max_context_turns"`
	SessionsDir     string `mapstructure:"sessions_dir"`
	PersonaFile     string `mapstructure:"persona_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.process_before_response", false)
	v.SetDefault("slack.suppressed_retry_reasons", []string{"http_timeout", "http_error"})
	v.SetDefault("gemini.chat_models", []string{"gemini-2.5-flash"})
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.rpm_limit", 60)
	v.SetDefault("rag.enabled", false)
	v.SetDefault("rag.backend", BackendChromem)
	v.SetDefault("rag.vectors_dir", "data/vectors")
	v.SetDefault("rag.collection", "knowledge-base")
	v.SetDefault("rag.top_k", 4)
	v.SetDefault("rag.min_similarity", 0)
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.dimension", 3072)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("bot.platform", PlatformSlack)
	v.SetDefault("bot.thinking_message", "考え中です...少々お待ちください...")
	v.SetDefault("bot.error_message", "エラーが発生しました: %v")
	v.SetDefault("bot.sessions_dir", "data/sessions")
}

// Load 读取并校验完整配置
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read 读取配置但只校验模型相关字段，供 indexer/ask 这类不连接聊天平台的工具使用。
// path 为空或文件不存在时只用默认值和环境变量。
func Read(path string) (*Config, error) {
	// .env 可选
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
			slog.Warn("config file not found, using defaults", "path", path)
		}
	}

	// 环境变量覆盖
	overrides := map[string]string{
		"SLACK_BOT_TOKEN":      "slack.bot_token",
		"SLACK_SIGNING_SECRET": "slack.signing_secret",
		"GEMINI_API_KEY":       "gemini.api_key",
		"NAPCAT_ACCESS_TOKEN":  "napcat.access_token",
		"QDRANT_API_KEY":       "qdrant.api_key",
	}
	for env, key := range overrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	if val := os.Getenv("RAG_ENABLED"); val != "" {
		v.Set("rag.enabled", strings.EqualFold(val, "true"))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ValidateAI(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ValidateAI 检查模型和向量库相关的必填项
func (c *Config) ValidateAI() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required (set in config or GEMINI_API_KEY env)")
	}
	if len(c.Gemini.ChatModels) == 0 {
		return fmt.Errorf("gemini.chat_models cannot be empty")
	}
	switch c.RAG.Backend {
	case BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("unknown rag.backend %q", c.RAG.Backend)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be smaller than rag.chunk_size")
	}
	return nil
}

// Validate 检查所有必填项，包括聊天平台
func (c *Config) Validate() error {
	if err := c.ValidateAI(); err != nil {
		return err
	}

	switch c.Bot.Platform {
	case PlatformSlack:
		if c.Slack.BotToken == "" || c.Slack.SigningSecret == "" {
			return fmt.Errorf("slack.bot_token and slack.signing_secret are required for platform %q", c.Bot.Platform)
		}
	case PlatformQQ:
		if c.NapCat.WSURL == "" {
			return fmt.Errorf("napcat.ws_url is required for platform %q", c.Bot.Platform)
		}
	default:
		return fmt.Errorf("unknown bot.platform %q", c.Bot.Platform)
	}
	return nil
}

// SlogLevel 将配置中的日志级别转换为 slog.Level
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
