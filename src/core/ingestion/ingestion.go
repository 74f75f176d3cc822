// Package ingestion turns a source file into indexed embedding records.
package ingestion

import (
	"context"
	"encoding/json"

	"docrag/src/core/decoder"
	"docrag/src/core/index"
	"docrag/src/core/rag"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
)

// Stages reported while a file is ingested. The job service records
// job.StageReceived before and job.StageFailed on failure.
const (
	StageDecoding  = "decoding"
	StageChunking  = "chunking"
	StageEmbedding = "embedding"
	StageIndexing  = "indexing"
	StageCompleted = job.StageCompleted
)

// Step names in the step log.
const (
	StepDecode = "decode"
	StepChunk  = "chunk"
	StepEmbed  = "embed"
	StepIndex  = "index"
)

type Decoder interface {
	Decode(ctx context.Context, path string, fileType rag.FileType) (decoder.Extraction, rag.FileType, error)
}

type Chunker interface {
	Chunk(sourceID, text string) []rag.Chunk
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Orchestrator struct {
	decoder  Decoder
	chunker  Chunker
	embedder Embedder
	index    index.Index
	steps    job.StepLog
}

func NewOrchestrator(d Decoder, c Chunker, e Embedder, idx index.Index, steps job.StepLog) *Orchestrator {
	return &Orchestrator{decoder: d, chunker: c, embedder: e, index: idx, steps: steps}
}

type decoded struct {
	Extraction decoder.Extraction `json:"extraction"`
	FileType   rag.FileType       `json:"file_type"`
}

// Ingest runs decode, chunk, embed and index for one file. Steps already
// recorded for jobID are not repeated.
func (o *Orchestrator) Ingest(ctx context.Context, jobID int64, ev rag.IngestFileEvent, progress job.Progress) (*rag.IngestResult, error) {
	if progress == nil {
		progress = func(string) {}
	}
	logger := log.WithValues("job_id", jobID, "source_id", ev.SourceID)

	progress(StageDecoding)
	doc, err := job.RunStep(ctx, o.steps, jobID, StepDecode, func(ctx context.Context) (decoded, error) {
		ext, ft, err := o.decoder.Decode(ctx, ev.FilePath, ev.FileType)
		return decoded{Extraction: ext, FileType: ft}, err
	})
	if err != nil {
		return nil, err
	}

	progress(StageChunking)
	chunks, err := job.RunStep(ctx, o.steps, jobID, StepChunk, func(context.Context) ([]rag.Chunk, error) {
		chunks := o.chunker.Chunk(ev.SourceID, doc.Extraction.Text)
		for i := range chunks {
			chunks[i].Page = doc.Extraction.PageAt(chunks[i].Start)
		}
		return chunks, nil
	})
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("Chunked document", "chunks", len(chunks), "file_type", doc.FileType)

	progress(StageEmbedding)
	vectors, err := job.RunStep(ctx, o.steps, jobID, StepEmbed, func(ctx context.Context) ([][]float32, error) {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		return o.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, rag.NewError(rag.ErrEmbeddingService, true, nil,
			"got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	progress(StageIndexing)
	upserted, err := job.RunStep(ctx, o.steps, jobID, StepIndex, func(ctx context.Context) (int, error) {
		records := make([]rag.EmbeddingRecord, len(chunks))
		for i, c := range chunks {
			records[i] = rag.NewRecord(c, doc.FileType, vectors[i])
		}
		return o.index.Upsert(ctx, records)
	})
	if err != nil {
		return nil, err
	}

	progress(StageCompleted)
	logger.Info("Ingested document", "chunks", len(chunks), "upserted", upserted)
	return &rag.IngestResult{SourceID: ev.SourceID, Chunks: len(chunks), Upserted: upserted}, nil
}

// Task runs ingest_file jobs.
func (o *Orchestrator) Task() job.Task {
	return job.TaskFunc(func(ctx context.Context, j *job.Job, progress job.Progress) (any, error) {
		var ev rag.IngestFileEvent
		if err := json.Unmarshal(j.Payload, &ev); err != nil {
			return nil, rag.NewError(rag.ErrInvalidFormat, false, err, "malformed ingestion payload")
		}
		if ev.SourceID == "" || ev.FilePath == "" {
			return nil, rag.NewError(rag.ErrInvalidFormat, false, nil, "ingestion needs a source id and a file path")
		}
		return o.Ingest(ctx, j.ID, ev, progress)
	})
}

// ReleaseCooldown frees the source's cooldown when its ingestion fails so
// the caller can resubmit.
func ReleaseCooldown(cooldown *job.SourceCooldown) job.FailureHook {
	return func(ctx context.Context, j *job.Job, _ error) {
		if j.Key == "" {
			return
		}
		if err := cooldown.Release(ctx, j.Key); err != nil {
			log.Error(err, "failed to release cooldown", "job_id", j.ID, "source_id", j.Key)
		}
	}
}
