package embeddings

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Dispatcher routes embedding requests by content kind. Prose and code
// use separately configured providers so each kind gets a model trained
// for it.
type Dispatcher struct {
	prose Provider
	code  Provider
}

// NewDispatcher builds both routes from config.
func NewDispatcher(cfg config.EmbeddingsConfig) (*Dispatcher, error) {
	prose, err := NewProvider(cfg.Prose)
	if err != nil {
		return nil, fmt.Errorf("prose route: %w", err)
	}
	code, err := NewProvider(cfg.Code)
	if err != nil {
		_ = prose.Close()
		return nil, fmt.Errorf("code route: %w", err)
	}
	return &Dispatcher{prose: prose, code: code}, nil
}

// NewDispatcherFromProviders wires explicit providers, used in tests.
func NewDispatcherFromProviders(prose, code Provider) *Dispatcher {
	return &Dispatcher{prose: prose, code: code}
}

func (d *Dispatcher) route(kind memory.ContentKind) Provider {
	if kind == memory.KindCode {
		return d.code
	}
	return d.prose
}

// EmbedDocuments embeds a batch of same-kind texts.
func (d *Dispatcher) EmbedDocuments(ctx context.Context, kind memory.ContentKind, texts []string) ([][]float32, error) {
	return d.route(kind).EmbedDocuments(ctx, texts)
}

// EmbedQuery embeds a retrieval query.
func (d *Dispatcher) EmbedQuery(ctx context.Context, kind memory.ContentKind, text string) ([]float32, error) {
	return d.route(kind).EmbedQuery(ctx, text)
}

// Dimension returns the vector size for a kind's route.
func (d *Dispatcher) Dimension(kind memory.ContentKind) int {
	return d.route(kind).Dimension()
}

// Close releases both routes.
func (d *Dispatcher) Close() error {
	err1 := d.prose.Close()
	err2 := d.code.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
