package synthesizer_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/rag"
	"docrag/src/core/synthesizer"
)

type fakeLLM struct {
	reply  string
	err    error
	calls  int
	system string
	prompt string
}

func (f *fakeLLM) Generate(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func hit(source string, idx int, text string, score float64) rag.ScoredRecord {
	rec := rag.NewRecord(rag.Chunk{SourceID: source, Index: idx, Text: text}, rag.FileTypeText, nil)
	return rag.ScoredRecord{Record: rec, Score: score}
}

func TestEmptyRetrievalSkipsModel(t *testing.T) {
	for _, f := range rag.OutputFormats {
		t.Run(string(f), func(t *testing.T) {
			llm := &fakeLLM{reply: "should not be used"}
			answer, err := synthesizer.New(llm).Synthesize(context.Background(), "what?", nil, f)
			require.NoError(t, err)
			assert.Equal(t, synthesizer.InsufficientContextAnswer, answer.Text)
			assert.Equal(t, f, answer.Format)
			assert.Empty(t, answer.Citations)
			assert.Zero(t, answer.NumContexts)
			assert.Zero(t, llm.calls)
		})
	}
}

func TestUnknownFormatIsRejected(t *testing.T) {
	for _, f := range []rag.OutputFormat{"", "poem", "SHORT", "bullets"} {
		t.Run(string(f), func(t *testing.T) {
			llm := &fakeLLM{reply: "x"}
			_, err := synthesizer.New(llm).Synthesize(context.Background(), "q", []rag.ScoredRecord{hit("a", 0, "t", 1)}, f)
			assert.ErrorIs(t, err, rag.ErrInvalidFormat)
			assert.Zero(t, llm.calls)

			_, err = synthesizer.New(llm).Synthesize(context.Background(), "q", nil, f)
			assert.ErrorIs(t, err, rag.ErrInvalidFormat)
		})
	}
}

func TestEachFormatHasItsOwnStrategy(t *testing.T) {
	seen := make(map[string]rag.OutputFormat)
	for _, f := range rag.OutputFormats {
		s, err := synthesizer.StrategyFor(f)
		require.NoError(t, err)
		require.NotEmpty(t, s.System)
		require.NotEmpty(t, s.Instruction)
		if other, dup := seen[s.Instruction]; dup {
			t.Fatalf("%s and %s share an instruction", f, other)
		}
		seen[s.Instruction] = f
	}
}

func TestSynthesizeBuildsGroundedPrompt(t *testing.T) {
	chunks := []rag.ScoredRecord{
		hit("manual.pdf", 4, "The pump must be primed before use.", 0.91),
		hit("faq.md", 0, "Priming takes about two minutes.", 0.80),
		hit("manual.pdf", 7, "Warranty covers two years.", 0.42),
	}
	llm := &fakeLLM{reply: "Prime the pump first [1], which takes about two minutes [2]."}

	answer, err := synthesizer.New(llm).Synthesize(context.Background(), "How do I start the pump?", chunks, rag.FormatBulletPoints)
	require.NoError(t, err)

	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.system, "bullet points")
	assert.True(t, strings.HasPrefix(llm.prompt, "Use the following context to answer the question."))
	assert.Contains(t, llm.prompt, "[1] (source: manual.pdf) The pump must be primed before use.")
	assert.Contains(t, llm.prompt, "[3] (source: manual.pdf) Warranty covers two years.")
	assert.Contains(t, llm.prompt, "Question: How do I start the pump?")
	assert.Contains(t, llm.prompt, "Instructions: Structure your answer as clear bullet points.")

	assert.Equal(t, rag.FormatBulletPoints, answer.Format)
	assert.Equal(t, 3, answer.NumContexts)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, 4, answer.Citations[0].ChunkIndex)
	assert.Equal(t, "faq.md", answer.Citations[1].SourceID)
	assert.Equal(t, []string{"manual.pdf", "faq.md"}, answer.Sources)
}

func TestUncitedAnswerAttributesAllChunks(t *testing.T) {
	chunks := []rag.ScoredRecord{hit("a", 0, "one", 0.9), hit("b", 1, "two", 0.8)}
	llm := &fakeLLM{reply: "An answer without references [9]."}

	answer, err := synthesizer.New(llm).Synthesize(context.Background(), "q", chunks, rag.FormatShort)
	require.NoError(t, err)
	assert.Len(t, answer.Citations, 2)
	assert.Equal(t, []string{"a", "b"}, answer.Sources)
}

func TestModelFailureIsSynthesisError(t *testing.T) {
	chunks := []rag.ScoredRecord{hit("a", 0, "one", 0.9)}

	_, err := synthesizer.New(&fakeLLM{err: errors.New("timeout")}).Synthesize(context.Background(), "q", chunks, rag.FormatLong)
	assert.ErrorIs(t, err, rag.ErrSynthesis)
	assert.True(t, rag.IsTransient(err))

	_, err = synthesizer.New(&fakeLLM{err: rag.Permanent(errors.New("400 bad request"))}).Synthesize(context.Background(), "q", chunks, rag.FormatLong)
	assert.ErrorIs(t, err, rag.ErrSynthesis)
	assert.False(t, rag.IsTransient(err))
}
