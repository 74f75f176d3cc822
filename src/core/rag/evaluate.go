package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// EvaluateSet is one line of a retrieval evaluation file.
type EvaluateSet struct {
	Query        string        `json:"query"`
	GoldenChunks []GoldenChunk `json:"golden_chunks"`
}

// GoldenChunk identifies a chunk that should be retrieved for a query.
type GoldenChunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`
}

// Retriever returns the top k records for a query.
type Retriever func(ctx context.Context, query string, k int) ([]ScoredRecord, error)

// EvaluateReport summarises recall over an evaluation file.
type EvaluateReport struct {
	Queries       int
	Skipped       int
	AverageRecall float64
}

// EvaluateRecall reads JSON lines of EvaluateSet and measures recall@k of the
// retriever against the golden chunks.
func EvaluateRecall(ctx context.Context, evaluateDataSet io.Reader, retrieve Retriever, k int) (*EvaluateReport, error) {
	scanner := bufio.NewScanner(evaluateDataSet)
	const maxCapacity = 4 * 1024 * 1024
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	report := &EvaluateReport{}
	var total float64
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var set EvaluateSet
		if err := json.Unmarshal(scanner.Bytes(), &set); err != nil {
			report.Skipped++
			continue
		}
		if len(set.GoldenChunks) == 0 {
			report.Skipped++
			continue
		}

		hits, err := retrieve(ctx, set.Query, k)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve chunks for %q: %w", set.Query, err)
		}

		var matchCount int
		for _, golden := range set.GoldenChunks {
			for _, hit := range hits {
				if hit.Record.Payload.SourceID == golden.SourceID && hit.Record.Payload.ChunkIndex == golden.Index {
					matchCount++
					break
				}
			}
		}
		total += float64(matchCount) / float64(len(set.GoldenChunks))
		report.Queries++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read evaluation file: %w", err)
	}

	if report.Queries > 0 {
		report.AverageRecall = total / float64(report.Queries)
	}
	return report, nil
}
