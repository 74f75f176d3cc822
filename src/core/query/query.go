// Package query answers questions from the vector index.
package query

import (
	"context"
	"encoding/json"

	"docrag/src/core/index"
	"docrag/src/core/rag"
	"docrag/src/infrastructure/job"
	"docrag/src/log"
)

// Step names in the step log.
const (
	StepEmbedAndSearch = "embed-and-search"
	StepLLMAnswer      = "llm-answer"
)

// Stages reported while a question is answered.
const (
	StageRetrieving   = "retrieving"
	StageSynthesizing = "synthesizing"
	StageCompleted    = job.StageCompleted
)

const (
	DefaultMinTopK = 1
	DefaultMaxTopK = 20
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, chunks []rag.ScoredRecord, format rag.OutputFormat) (*rag.Answer, error)
}

// Limits bounds top_k and optionally filters weak hits. A nil
// ScoreThreshold returns the top_k best hits whatever their score.
type Limits struct {
	MinTopK        int
	MaxTopK        int
	ScoreThreshold *float64
}

type Orchestrator struct {
	embedder    QueryEmbedder
	index       index.Index
	synthesizer Synthesizer
	steps       job.StepLog
	limits      Limits
	threshold   float64
}

func NewOrchestrator(e QueryEmbedder, idx index.Index, s Synthesizer, steps job.StepLog, limits Limits) *Orchestrator {
	if limits.MinTopK <= 0 {
		limits.MinTopK = DefaultMinTopK
	}
	if limits.MaxTopK <= 0 {
		limits.MaxTopK = DefaultMaxTopK
	}
	threshold := index.NoThreshold
	if limits.ScoreThreshold != nil {
		threshold = *limits.ScoreThreshold
	}
	return &Orchestrator{embedder: e, index: idx, synthesizer: s, steps: steps, limits: limits, threshold: threshold}
}

// Validate rejects requests that must not reach the embedding service.
func (o *Orchestrator) Validate(req rag.QueryRequest) error {
	return rag.ValidateQuery(req, o.limits.MinTopK, o.limits.MaxTopK)
}

// Answer validates req, retrieves its top_k chunks and synthesizes an answer.
func (o *Orchestrator) Answer(ctx context.Context, jobID int64, req rag.QueryRequest, progress job.Progress) (*rag.Answer, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string) {}
	}

	progress(StageRetrieving)
	hits, err := job.RunStep(ctx, o.steps, jobID, StepEmbedAndSearch, func(ctx context.Context) ([]rag.ScoredRecord, error) {
		return o.Retrieve(ctx, req.Question, req.TopK)
	})
	if err != nil {
		return nil, err
	}

	progress(StageSynthesizing)
	answer, err := job.RunStep(ctx, o.steps, jobID, StepLLMAnswer, func(ctx context.Context) (*rag.Answer, error) {
		return o.synthesizer.Synthesize(ctx, req.Question, hits, req.OutputFormat)
	})
	if err != nil {
		return nil, err
	}

	progress(StageCompleted)
	log.Info("Answered question", "job_id", jobID, "contexts", len(hits), "format", req.OutputFormat)
	return answer, nil
}

// Retrieve embeds question and returns the best k chunks without their
// vectors.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, k int) ([]rag.ScoredRecord, error) {
	vector, err := o.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	hits, err := o.index.Search(ctx, vector, k, o.threshold)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Record.Vector = nil
	}
	return hits, nil
}

// Task runs query_documents jobs.
func (o *Orchestrator) Task() job.Task {
	return job.TaskFunc(func(ctx context.Context, j *job.Job, progress job.Progress) (any, error) {
		var req rag.QueryRequest
		if err := json.Unmarshal(j.Payload, &req); err != nil {
			return nil, rag.NewError(rag.ErrInvalidFormat, false, err, "malformed query payload")
		}
		return o.Answer(ctx, j.ID, req, progress)
	})
}
