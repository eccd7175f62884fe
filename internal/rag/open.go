package rag

import (
	"context"
	"fmt"

	"github.com/liao/ragbot/internal/config"
)

// OpenStore 按配置打开向量库
func OpenStore(ctx context.Context, cfg config.RAGConfig, qcfg config.QdrantConfig, embed EmbedFunc) (Store, error) {
	switch cfg.Backend {
	case config.BackendChromem, "":
		return NewChromemStore(cfg.VectorsDir, cfg.Collection, embed)
	case config.BackendQdrant:
		return NewQdrantStore(ctx, QdrantOptions{
			Host:       qcfg.Host,
			Port:       qcfg.Port,
			APIKey:     qcfg.APIKey,
			UseTLS:     qcfg.UseTLS,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		}, embed)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
