package ingestion_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/chunker"
	"docrag/src/core/decoder"
	"docrag/src/core/embedder"
	"docrag/src/core/index"
	"docrag/src/core/ingestion"
	"docrag/src/core/rag"
	"docrag/src/core/rag/ragtest"
	"docrag/src/infrastructure/job"
)

const dim = 8

func document(n int) string {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString(words[(i*3+i/5)%len(words)])
		b.WriteByte(' ')
	}
	return b.String()[:n]
}

type countingFiles struct {
	ragtest.Files
	mu    sync.Mutex
	reads int
}

func (c *countingFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Files.ReadFile(ctx, path)
}

// flakyIndex fails the first n upserts.
type flakyIndex struct {
	*index.Memory
	failures int
}

func (f *flakyIndex) Upsert(ctx context.Context, records []rag.EmbeddingRecord) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, index.Unavailable(nil, "connection refused")
	}
	return f.Memory.Upsert(ctx, records)
}

type fixture struct {
	orch  *ingestion.Orchestrator
	files *countingFiles
	emb   *ragtest.Embedder
	idx   *index.Memory
}

func newFixture(t *testing.T, idx index.Index, mem *index.Memory, files ragtest.Files) fixture {
	t.Helper()

	c, err := chunker.New(chunker.WithMaxChars(1000), chunker.WithOverlap(200))
	require.NoError(t, err)

	client := ragtest.NewEmbedder(dim)
	emb, err := embedder.New(client, dim, 16)
	require.NoError(t, err)

	cf := &countingFiles{Files: files}
	dec := decoder.New(cf, decoder.WithStrategies(rag.FileTypeText, decoder.PlainText{}))

	return fixture{
		orch:  ingestion.NewOrchestrator(dec, c, emb, idx, job.NewMemoryStepLog()),
		files: cf,
		emb:   client,
		idx:   mem,
	}
}

func TestIngestScenarioDocument(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory(dim)
	text := document(2500)
	f := newFixture(t, mem, mem, ragtest.Files{"/docs/guide.txt": []byte(text)})

	var stages []string
	res, err := f.orch.Ingest(ctx, 1, rag.IngestFileEvent{
		SourceID: "guide.txt",
		FilePath: "/docs/guide.txt",
		FileType: rag.FileTypeText,
	}, func(stage string) { stages = append(stages, stage) })
	require.NoError(t, err)

	assert.Equal(t, &rag.IngestResult{SourceID: "guide.txt", Chunks: 3, Upserted: 3}, res)
	assert.Equal(t, []string{"decoding", "chunking", "embedding", "indexing", "completed"}, stages)
	assert.Equal(t, 3, mem.Len())

	hits, err := mem.Search(ctx, f.emb.Vector(text[:1000]), 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, rag.RecordID("guide.txt", 0), hits[0].Record.ID)
	assert.Equal(t, rag.FileTypeText, hits[0].Record.Payload.SourceType)
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory(dim)
	f := newFixture(t, mem, mem, ragtest.Files{"a.txt": []byte(document(1800))})

	ev := rag.IngestFileEvent{SourceID: "a", FilePath: "a.txt"}
	_, err := f.orch.Ingest(ctx, 1, ev, nil)
	require.NoError(t, err)
	_, err = f.orch.Ingest(ctx, 2, ev, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, mem.Len(), "re-ingesting a source overwrites its records")
}

func TestIngestRetryResumesAfterLastStep(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory(dim)
	flaky := &flakyIndex{Memory: mem, failures: 1}
	f := newFixture(t, flaky, mem, ragtest.Files{"a.txt": []byte(document(1200))})

	ev := rag.IngestFileEvent{SourceID: "a", FilePath: "a.txt", FileType: rag.FileTypeText}

	_, err := f.orch.Ingest(ctx, 9, ev, nil)
	require.Error(t, err)
	assert.True(t, rag.IsTransient(err))
	assert.Equal(t, "index_error", rag.KindOf(err))
	assert.Equal(t, 0, mem.Len())

	res, err := f.orch.Ingest(ctx, 9, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)

	assert.Equal(t, 1, f.files.reads, "decode is not repeated")
	assert.Equal(t, 1, f.emb.Calls(), "embed is not repeated")
}

func TestIngestFailures(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name      string
		files     ragtest.Files
		ev        rag.IngestFileEvent
		kind      string
		cause     error
		transient bool
	}{
		{
			name:  "empty document",
			files: ragtest.Files{"blank.txt": []byte("  \n\t ")},
			ev:    rag.IngestFileEvent{SourceID: "blank", FilePath: "blank.txt", FileType: rag.FileTypeText},
			kind:  "decode_error",
			cause: rag.ErrNoExtractableText,
		},
		{
			name:  "missing file",
			files: ragtest.Files{},
			ev:    rag.IngestFileEvent{SourceID: "gone", FilePath: "gone.txt", FileType: rag.FileTypeText},
			kind:  "decode_error",
		},
		{
			name:  "no extractor for type",
			files: ragtest.Files{"x.pdf": []byte("%PDF-1.4")},
			ev:    rag.IngestFileEvent{SourceID: "x", FilePath: "x.pdf", FileType: rag.FileTypePDF},
			kind:  "decode_error",
			cause: rag.ErrUnsupportedFileType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := index.NewMemory(dim)
			f := newFixture(t, mem, mem, tc.files)

			_, err := f.orch.Ingest(ctx, 1, tc.ev, nil)
			require.Error(t, err)
			assert.Equal(t, tc.kind, rag.KindOf(err))
			assert.Equal(t, tc.transient, rag.IsTransient(err))
			if tc.cause != nil {
				assert.ErrorIs(t, err, tc.cause)
			}
			assert.Equal(t, 0, mem.Len())
			assert.Equal(t, 0, f.emb.Calls())
		})
	}
}

func TestChunksCarryPages(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory(dim)

	c, err := chunker.New(chunker.WithMaxChars(10), chunker.WithOverlap(0))
	require.NoError(t, err)
	emb, err := embedder.New(ragtest.NewEmbedder(dim), dim, 4)
	require.NoError(t, err)

	paged := pagedDecoder{ext: decoder.Extraction{
		Text:  "aaaaaaaaaabbbbbbbbbbcccccccccc",
		Pages: []decoder.PageStart{{Page: 1, Offset: 0}, {Page: 2, Offset: 15}},
	}}
	orch := ingestion.NewOrchestrator(paged, c, emb, mem, job.NewMemoryStepLog())

	_, err = orch.Ingest(ctx, 1, rag.IngestFileEvent{SourceID: "p", FilePath: "p.pdf"}, nil)
	require.NoError(t, err)

	hits, err := mem.Search(ctx, ragtest.NewEmbedder(dim).Vector("cccccccccc"), 3, 0)
	require.NoError(t, err)
	pages := map[int]int{}
	for _, h := range hits {
		pages[h.Record.Payload.ChunkIndex] = h.Record.Payload.Page
	}
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 2}, pages)
}

type pagedDecoder struct {
	ext decoder.Extraction
}

func (p pagedDecoder) Decode(context.Context, string, rag.FileType) (decoder.Extraction, rag.FileType, error) {
	return p.ext, rag.FileTypePDF, nil
}

func TestTaskReleasesCooldownOnFailure(t *testing.T) {
	ctx := context.Background()
	cooldown := job.NewSourceCooldown(job.NewMemoryCooldownStore(), 2*time.Hour)

	require.NoError(t, cooldown.Acquire(ctx, "report"))
	hook := ingestion.ReleaseCooldown(cooldown)
	hook(ctx, &job.Job{ID: 1, Key: "report"}, rag.NewError(rag.ErrDecode, false, nil, "corrupt"))

	assert.NoError(t, cooldown.Acquire(ctx, "report"))
}
