// Package embeddings generates dense vectors for memory content. Two
// routes exist: a TEI HTTP service and a local fastembed ONNX model.
// Prose and code flow through separately configured routes.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed indicates a generation failure. The ingestion
	// path treats it as non-fatal and stores the record with a pending
	// vector for backfill.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
type Provider interface {
	// EmbedDocuments embeds a batch of stored texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the output vector size.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// NewProvider builds a provider for one configured route.
func NewProvider(cfg config.EmbeddingRouteConfig) (Provider, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewTEI(cfg)
	case "fastembed":
		return NewFastEmbed(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// dimensionForModel guesses the output size from the model name.
// Known fastembed models are exact; otherwise common naming conventions
// apply with 384 as the safe small-model default.
func dimensionForModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
