package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

type fakeRoute struct {
	name      string
	dimension int
	closeErr  error

	docCalls   [][]string
	queryCalls []string
}

func (r *fakeRoute) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	r.docCalls = append(r.docCalls, texts)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, r.dimension)
	}
	return out, nil
}

func (r *fakeRoute) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	r.queryCalls = append(r.queryCalls, text)
	return make([]float32, r.dimension), nil
}

func (r *fakeRoute) Dimension() int { return r.dimension }
func (r *fakeRoute) Close() error   { return r.closeErr }

func TestDispatcherRoutesByKind(t *testing.T) {
	prose := &fakeRoute{name: "prose", dimension: 384}
	code := &fakeRoute{name: "code", dimension: 768}
	d := NewDispatcherFromProviders(prose, code)
	ctx := context.Background()

	_, err := d.EmbedDocuments(ctx, memory.KindProse, []string{"a note"})
	require.NoError(t, err)
	_, err = d.EmbedDocuments(ctx, memory.KindCode, []string{"func main() {}"})
	require.NoError(t, err)
	_, err = d.EmbedQuery(ctx, memory.KindCode, "retry loop")
	require.NoError(t, err)

	assert.Len(t, prose.docCalls, 1)
	assert.Len(t, code.docCalls, 1)
	assert.Empty(t, prose.queryCalls)
	assert.Equal(t, []string{"retry loop"}, code.queryCalls)
}

func TestDispatcherUnknownKindDefaultsToProse(t *testing.T) {
	prose := &fakeRoute{name: "prose", dimension: 384}
	code := &fakeRoute{name: "code", dimension: 768}
	d := NewDispatcherFromProviders(prose, code)

	_, err := d.EmbedQuery(context.Background(), memory.ContentKind("unknown"), "q")
	require.NoError(t, err)
	assert.Len(t, prose.queryCalls, 1)
	assert.Empty(t, code.queryCalls)
}

func TestDispatcherDimensionPerRoute(t *testing.T) {
	d := NewDispatcherFromProviders(
		&fakeRoute{dimension: 384},
		&fakeRoute{dimension: 768},
	)

	assert.Equal(t, 384, d.Dimension(memory.KindProse))
	assert.Equal(t, 768, d.Dimension(memory.KindCode))
}

func TestDispatcherCloseReturnsFirstError(t *testing.T) {
	proseErr := errors.New("prose close failed")
	d := NewDispatcherFromProviders(
		&fakeRoute{closeErr: proseErr},
		&fakeRoute{},
	)

	assert.ErrorIs(t, d.Close(), proseErr)

	d = NewDispatcherFromProviders(&fakeRoute{}, &fakeRoute{})
	assert.NoError(t, d.Close())
}
