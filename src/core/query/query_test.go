package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/embedder"
	"docrag/src/core/index"
	"docrag/src/core/query"
	"docrag/src/core/rag"
	"docrag/src/core/rag/ragtest"
	"docrag/src/core/synthesizer"
	"docrag/src/infrastructure/job"
)

const dim = 8

type fixture struct {
	orch *query.Orchestrator
	emb  *ragtest.Embedder
	llm  *ragtest.LLM
	idx  *index.Memory
}

func newFixture(t *testing.T, texts map[string]string) fixture {
	t.Helper()
	ctx := context.Background()

	client := ragtest.NewEmbedder(dim)
	emb, err := embedder.New(client, dim, 8)
	require.NoError(t, err)

	idx := index.NewMemory(dim)
	var records []rag.EmbeddingRecord
	i := 0
	for src, text := range texts {
		records = append(records, rag.NewRecord(rag.Chunk{SourceID: src, Index: i, Text: text}, rag.FileTypeText, client.Vector(text)))
		i++
	}
	_, err = idx.Upsert(ctx, records)
	require.NoError(t, err)

	llm := &ragtest.LLM{Reply: "The cat sat on the mat [1]."}
	orch := query.NewOrchestrator(emb, idx, synthesizer.New(llm), job.NewMemoryStepLog(), query.Limits{})

	return fixture{orch: orch, emb: client, llm: llm, idx: idx}
}

func TestAnswer(t *testing.T) {
	f := newFixture(t, map[string]string{
		"cats.txt":  "the cat sat on the mat",
		"dogs.txt":  "dogs bark loudly at night",
		"birds.txt": "birds sing in the morning",
	})

	var stages []string
	answer, err := f.orch.Answer(context.Background(), 1, rag.QueryRequest{
		Question:     "where did the cat sit",
		TopK:         2,
		OutputFormat: rag.FormatShort,
	}, func(s string) { stages = append(stages, s) })
	require.NoError(t, err)

	assert.Equal(t, "The cat sat on the mat [1].", answer.Text)
	assert.Equal(t, 2, answer.NumContexts)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, []string{"retrieving", "synthesizing", "completed"}, stages)
	assert.Equal(t, 1, f.emb.Calls())
	assert.Equal(t, 1, f.llm.Calls())
}

func TestAnswerRejectsBeforeEmbedding(t *testing.T) {
	testCases := []struct {
		name string
		req  rag.QueryRequest
	}{
		{name: "top_k above range", req: rag.QueryRequest{Question: "q", TopK: 25, OutputFormat: rag.FormatShort}},
		{name: "top_k zero", req: rag.QueryRequest{Question: "q", TopK: 0, OutputFormat: rag.FormatShort}},
		{name: "unknown format", req: rag.QueryRequest{Question: "q", TopK: 3, OutputFormat: "haiku"}},
		{name: "empty question", req: rag.QueryRequest{Question: "  ", TopK: 3, OutputFormat: rag.FormatLong}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"a.txt": "alpha"})

			_, err := f.orch.Answer(context.Background(), 1, tc.req, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, rag.ErrInvalidFormat)
			assert.Equal(t, 0, f.emb.Calls())
			assert.Equal(t, 0, f.llm.Calls())
		})
	}
}

func TestAnswerWithEmptyIndex(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.orch.Answer(context.Background(), 1, rag.QueryRequest{
		Question: "anything", TopK: 5, OutputFormat: rag.FormatDetailed,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, synthesizer.InsufficientContextAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 0, f.llm.Calls())
}

func TestAnswerRetryReusesRetrieval(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha beta"})
	f.llm.Err = rag.Permanent(assert.AnError)
	req := rag.QueryRequest{Question: "alpha", TopK: 1, OutputFormat: rag.FormatSummary}

	_, err := f.orch.Answer(context.Background(), 4, req, nil)
	require.Error(t, err)
	assert.Equal(t, "synthesis_error", rag.KindOf(err))

	f.llm.Err = nil
	_, err = f.orch.Answer(context.Background(), 4, req, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.emb.Calls())
	assert.Equal(t, 2, f.llm.Calls())
}

func TestRetrieveOrdersHits(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt": "aaaa",
		"b.txt": "aabb",
		"c.txt": "bbbb",
	})

	hits, err := f.orch.Retrieve(context.Background(), "aaaa", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a.txt", hits[0].Record.Payload.SourceID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	assert.Nil(t, hits[0].Record.Vector)
}

type fixedEmbedder []float32

func (v fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return v, nil }

func TestRetrieveThreshold(t *testing.T) {
	vectors := map[string][]float32{
		"near.txt":     {1, 0.2, 0},
		"opposite.txt": {-1, -0.5, 0},
		"far.txt":      {-1, 0, 0},
	}
	zero, half := 0.0, 0.5

	testCases := []struct {
		name      string
		threshold *float64
		k         int
		want      int
	}{
		{name: "unset returns k hits", threshold: nil, k: 2, want: 2},
		{name: "unset returns every record", threshold: nil, k: 3, want: 3},
		{name: "zero drops negative similarity", threshold: &zero, k: 2, want: 1},
		{name: "configured cut", threshold: &half, k: 3, want: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			idx := index.NewMemory(3)
			i := 0
			for src, v := range vectors {
				_, err := idx.Upsert(ctx, []rag.EmbeddingRecord{
					rag.NewRecord(rag.Chunk{SourceID: src, Index: i, Text: src}, rag.FileTypeText, v),
				})
				require.NoError(t, err)
				i++
			}

			orch := query.NewOrchestrator(fixedEmbedder{1, 0, 0}, idx, nil, job.NewMemoryStepLog(),
				query.Limits{ScoreThreshold: tc.threshold})

			hits, err := orch.Retrieve(ctx, "q", tc.k)
			require.NoError(t, err)
			require.Len(t, hits, tc.want)
			assert.Equal(t, "near.txt", hits[0].Record.Payload.SourceID)
		})
	}
}
