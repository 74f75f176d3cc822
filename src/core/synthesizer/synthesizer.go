// Package synthesizer writes an answer to a question from retrieved chunks.
package synthesizer

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"docrag/src/core/rag"
	"docrag/src/log"
)

var (
	answerTmpl  = template.Must(template.New("answer").Parse(AnswerPromptTmpl))
	citationRef = regexp.MustCompile(`\[(\d+)\]`)
)

// Synthesizer grounds a language model in the supplied chunks.
type Synthesizer struct {
	llm rag.LanguageModel
}

// New creates a synthesizer generating through llm.
func New(llm rag.LanguageModel) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize answers question from chunks in the requested format. Without
// chunks it returns InsufficientContextAnswer and never calls the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []rag.ScoredRecord, format rag.OutputFormat) (*rag.Answer, error) {
	strategy, err := StrategyFor(format)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return &rag.Answer{
			Text:      InsufficientContextAnswer,
			Format:    format,
			Citations: []rag.Citation{},
			Sources:   []string{},
		}, nil
	}

	var prompt bytes.Buffer
	if err := answerTmpl.Execute(&prompt, newPromptData(question, chunks, strategy)); err != nil {
		return nil, rag.NewError(rag.ErrSynthesis, false, err, "failed to render prompt")
	}

	text, err := s.llm.Generate(ctx, strategy.System, prompt.String())
	if err != nil {
		transient := !rag.IsPermanent(err)
		return nil, rag.NewError(rag.ErrSynthesis, transient, err, "language model call failed")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, rag.NewError(rag.ErrSynthesis, true, nil, "language model returned an empty answer")
	}

	used := citedChunks(text, chunks)
	log.Debug("Synthesized answer", "format", format, "contexts", len(chunks), "cited", len(used))

	answer := &rag.Answer{
		Text:        text,
		Format:      format,
		Citations:   make([]rag.Citation, 0, len(used)),
		NumContexts: len(chunks),
	}
	seen := make(map[string]bool)
	for _, c := range used {
		answer.Citations = append(answer.Citations, rag.CitationFromRecord(c))
		if src := c.Record.Payload.SourceID; !seen[src] {
			seen[src] = true
			answer.Sources = append(answer.Sources, src)
		}
	}
	return answer, nil
}

// citedChunks picks the chunks referenced as [n] in text, in retrieval order.
// When the model cites nothing valid every chunk is attributed.
func citedChunks(text string, chunks []rag.ScoredRecord) []rag.ScoredRecord {
	cited := make(map[int]bool)
	for _, m := range citationRef.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= len(chunks) {
			cited[n-1] = true
		}
	}
	if len(cited) == 0 {
		return chunks
	}

	used := make([]rag.ScoredRecord, 0, len(cited))
	for i, c := range chunks {
		if cited[i] {
			used = append(used, c)
		}
	}
	return used
}
