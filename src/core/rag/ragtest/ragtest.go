// Package ragtest provides in-memory providers for pipeline tests.
package ragtest

import (
	"context"
	"io/fs"
	"sync"
	"unicode"
)

// Files is a map backed file reader.
type Files map[string][]byte

func (f Files) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

// Embedder maps text to a letter histogram. Texts sharing letters land close
// together, which is enough to make rankings predictable.
type Embedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
	texts int
}

func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

func (e *Embedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = e.Vector(t)
	}
	return vecs, nil
}

// Vector is the embedding CreateEmbedding returns for text.
func (e *Embedder) Vector(text string) []float32 {
	v := make([]float32, e.Dim)
	v[0] = 1
	for _, r := range text {
		r = unicode.ToLower(r)
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%e.Dim]++
		}
	}
	return v
}

// Calls is the number of CreateEmbedding calls so far.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// LLM returns a fixed reply and records its prompts.
type LLM struct {
	Reply string
	Err   error

	mu      sync.Mutex
	Prompts []string
}

func (l *LLM) Generate(_ context.Context, _ string, prompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Prompts = append(l.Prompts, prompt)
	return l.Reply, l.Err
}

// Calls is the number of Generate calls so far.
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Prompts)
}
