// Package chunker splits decoded text into overlapping fixed-size windows.
package chunker

import (
	"fmt"
	"iter"

	"docrag/src/core/rag"
)

const (
	DefaultMaxChars = 1000
	DefaultOverlap  = 200
)

// Chunker cuts text on character count only. Lengths and offsets are runes.
type Chunker struct {
	maxChars int
	overlap  int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars sets the maximum chunk length in characters.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		c.maxChars = n
	}
}

// WithOverlap sets how many characters consecutive chunks share.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		c.overlap = n
	}
}

// New creates a chunker. The overlap must be smaller than the chunk size.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxChars: DefaultMaxChars,
		overlap:  DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxChars <= 0 {
		return nil, fmt.Errorf("max chars must be positive, got %d", c.maxChars)
	}
	if c.overlap < 0 || c.overlap >= c.maxChars {
		return nil, fmt.Errorf("overlap must be in [0,%d), got %d", c.maxChars, c.overlap)
	}
	return c, nil
}

// Seq lazily yields the chunks of text. Every range over the returned
// sequence starts again from the beginning of the text.
func (c *Chunker) Seq(sourceID, text string) iter.Seq[rag.Chunk] {
	return func(yield func(rag.Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		step := c.maxChars - c.overlap

		for i, start := 0, 0; start < n; i, start = i+1, start+step {
			end := min(start+c.maxChars, n)
			overlap := c.overlap
			if i == 0 {
				overlap = 0
			}

			chunk := rag.Chunk{
				SourceID: sourceID,
				Index:    i,
				Text:     string(runes[start:end]),
				Start:    start,
				End:      end,
				Overlap:  overlap,
			}
			if !yield(chunk) {
				return
			}
			// the tail is already covered, another window would be pure overlap
			if end == n {
				return
			}
		}
	}
}

// Chunk returns every chunk of text in order. Empty text gives no chunks.
func (c *Chunker) Chunk(sourceID, text string) []rag.Chunk {
	var chunks []rag.Chunk
	for chunk := range c.Seq(sourceID, text) {
		chunks = append(chunks, chunk)
	}
	return chunks
}
