package embedder_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/embedder"
	"docrag/src/core/rag"
)

// fakeClient encodes each text's position in the first vector component.
type fakeClient struct {
	dim     int
	calls   int
	batches []int
	err     error
	short   bool
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, len(texts))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var n int
		fmt.Sscanf(t, "text-%d", &n)
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(n)
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbedPreservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			client := &fakeClient{dim: 4}
			e, err := embedder.New(client, 4, 2)
			require.NoError(t, err)

			texts := make([]string, n)
			for i := range texts {
				texts[i] = fmt.Sprintf("text-%d", i)
			}

			vectors, err := e.Embed(context.Background(), texts)
			require.NoError(t, err)
			require.Len(t, vectors, n)
			for i, v := range vectors {
				assert.Equal(t, float32(i), v[0])
			}

			if n == 0 {
				assert.Zero(t, client.calls)
			} else {
				assert.Equal(t, (n+1)/2, client.calls)
				for _, size := range client.batches {
					assert.LessOrEqual(t, size, 2)
				}
			}
		})
	}
}

func TestEmbedErrors(t *testing.T) {
	tests := []struct {
		name          string
		client        *fakeClient
		dim           int
		wantTransient bool
		wantCause     error
	}{
		{
			name:          "network failure",
			client:        &fakeClient{dim: 4, err: errors.New("503 service unavailable")},
			dim:           4,
			wantTransient: true,
		},
		{
			name:          "rejected request",
			client:        &fakeClient{dim: 4, err: rag.Permanent(errors.New("401 unauthorized"))},
			dim:           4,
			wantTransient: false,
		},
		{
			name:          "dimension mismatch",
			client:        &fakeClient{dim: 3},
			dim:           4,
			wantTransient: false,
			wantCause:     rag.ErrDimensionMismatch,
		},
		{
			name:          "missing vectors",
			client:        &fakeClient{dim: 4, short: true},
			dim:           4,
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := embedder.New(tt.client, tt.dim, 8)
			require.NoError(t, err)

			_, err = e.Embed(context.Background(), []string{"text-0", "text-1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrEmbeddingService)
			assert.Equal(t, tt.wantTransient, rag.IsTransient(err))
			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}
		})
	}
}

func TestEmbedQuery(t *testing.T) {
	e, err := embedder.New(&fakeClient{dim: 2}, 2, 0)
	require.NoError(t, err)

	v, err := e.EmbedQuery(context.Background(), "text-9")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 0}, v)
	assert.Equal(t, 2, e.Dimension())
}
