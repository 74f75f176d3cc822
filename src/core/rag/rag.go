package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FileType is the decoder family a source belongs to.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeWord  FileType = "word"
	FileTypeImage FileType = "image"
	FileTypeText  FileType = "text"
)

// Chunk is a contiguous span of extracted document text.
// Start and End are rune offsets into the decoded text; the first Overlap
// runes repeat the tail of the previous chunk.
type Chunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Overlap  int    `json:"overlap"`
	Page     int    `json:"page,omitempty"`
}

// Core returns the part of the chunk not shared with its predecessor.
func (c Chunk) Core() string {
	return string([]rune(c.Text)[c.Overlap:])
}

// Payload is stored next to every vector in the index.
type Payload struct {
	Text       string   `json:"text"`
	SourceID   string   `json:"source_id"`
	ChunkIndex int      `json:"chunk_index"`
	SourceType FileType `json:"source_type"`
	Page       int      `json:"page,omitempty"`
}

// EmbeddingRecord is the persisted unit of the vector index.
type EmbeddingRecord struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// ScoredRecord is a search hit with its cosine similarity.
type ScoredRecord struct {
	Record EmbeddingRecord `json:"record"`
	Score  float64         `json:"score"`
}

// RecordID derives the stable identifier of a chunk's embedding record.
// The same source and chunk index always map to the same id.
func RecordID(sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", sourceID, chunkIndex))).String()
}

// NewRecord builds the embedding record for a chunk.
func NewRecord(chunk Chunk, sourceType FileType, vector []float32) EmbeddingRecord {
	return EmbeddingRecord{
		ID:     RecordID(chunk.SourceID, chunk.Index),
		Vector: vector,
		Payload: Payload{
			Text:       chunk.Text,
			SourceID:   chunk.SourceID,
			ChunkIndex: chunk.Index,
			SourceType: sourceType,
			Page:       chunk.Page,
		},
	}
}

// IngestFileEvent is the payload of an ingest_file job.
type IngestFileEvent struct {
	SourceID string   `json:"source_id"`
	FilePath string   `json:"file_path"`
	FileType FileType `json:"file_type"`
}

// IngestResult is reported when an ingestion completes.
type IngestResult struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
	Upserted int    `json:"upserted"`
}

// QueryRequest is the payload of a query_documents job.
type QueryRequest struct {
	Question     string       `json:"question"`
	TopK         int          `json:"top_k"`
	OutputFormat OutputFormat `json:"output_format"`
}

// Citation points an answer back to the chunk it used.
type Citation struct {
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Page       int     `json:"page,omitempty"`
}

// Answer is the synthesized response to a question.
type Answer struct {
	Text        string       `json:"answer"`
	Format      OutputFormat `json:"output_format"`
	Citations   []Citation   `json:"citations"`
	Sources     []string     `json:"sources"`
	NumContexts int          `json:"num_contexts"`
}

// CitationFromRecord converts a search hit into a citation.
func CitationFromRecord(r ScoredRecord) Citation {
	return Citation{
		SourceID:   r.Record.Payload.SourceID,
		ChunkIndex: r.Record.Payload.ChunkIndex,
		Text:       r.Record.Payload.Text,
		Score:      r.Score,
		Page:       r.Record.Payload.Page,
	}
}

// EmbeddingClient is a remote embedding model. The signature matches
// langchaingo's embeddings.EmbedderClient so providers plug into its batcher.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// LanguageModel generates a completion for a system prompt and user prompt.
type LanguageModel interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// VisionModel reads an image and answers an instruction about it.
type VisionModel interface {
	DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error)
}
