package synthesizer

import (
	"fmt"

	"docrag/src/core/rag"
)

const (
	AnswerPromptTmpl = `Use the following context to answer the question.

Context:
{{range .Contexts}}[{{.N}}] (source: {{.SourceID}}) {{.Text}}

{{end}}Question: {{.Question}}

Instructions: {{.Instruction}} Use only the context above. Cite the contexts you relied on by their bracketed number, for example [1].`

	groundingRule = " If the context does not contain the answer, say so."
)

// InsufficientContextAnswer is returned when nothing was retrieved.
const InsufficientContextAnswer = "I could not find enough information in the indexed documents to answer this question."

// Strategy shapes the answer for one output format.
type Strategy struct {
	System      string
	Instruction string
}

// StrategyFor returns the prompt strategy of f. Every format has exactly one.
func StrategyFor(f rag.OutputFormat) (Strategy, error) {
	switch f {
	case rag.FormatShort:
		return Strategy{
			System:      "You answer questions concisely in 2-3 sentences using only the provided context." + groundingRule,
			Instruction: "Answer concisely in 2-3 sentences.",
		}, nil
	case rag.FormatLong:
		return Strategy{
			System:      "You provide comprehensive, detailed answers using the provided context. Include all relevant information and explanations." + groundingRule,
			Instruction: "Provide a comprehensive, detailed answer with all relevant information.",
		}, nil
	case rag.FormatBulletPoints:
		return Strategy{
			System:      "You answer questions using bullet points. Structure your response with clear, concise bullet points highlighting key information from the context." + groundingRule,
			Instruction: "Structure your answer as clear bullet points.",
		}, nil
	case rag.FormatDetailed:
		return Strategy{
			System:      "You provide thorough, well-structured answers with multiple paragraphs. Include examples, explanations, and all relevant details from the context." + groundingRule,
			Instruction: "Provide a thorough answer with multiple paragraphs, examples, and explanations.",
		}, nil
	case rag.FormatTabular:
		return Strategy{
			System:      "You answer questions in a structured, tabular format when appropriate. Use clear headings and organize information systematically. If the information fits a table structure, present it that way using markdown tables." + groundingRule,
			Instruction: "If applicable, present the information in a markdown table or structured format with clear categories.",
		}, nil
	case rag.FormatSummary:
		return Strategy{
			System:      "You provide a summary-style answer that captures the main points from the context in a brief, organized manner." + groundingRule,
			Instruction: "Provide a well-organized summary of the main points.",
		}, nil
	}
	return Strategy{}, rag.NewError(rag.ErrInvalidFormat, false, nil, "unknown output format %q", f)
}

type promptContext struct {
	N        int
	SourceID string
	Text     string
}

type promptData struct {
	Contexts    []promptContext
	Question    string
	Instruction string
}

func newPromptData(question string, chunks []rag.ScoredRecord, s Strategy) promptData {
	data := promptData{Question: question, Instruction: s.Instruction}
	for i, c := range chunks {
		data.Contexts = append(data.Contexts, promptContext{
			N:        i + 1,
			SourceID: sourceLabel(c.Record.Payload),
			Text:     c.Record.Payload.Text,
		})
	}
	return data
}

func sourceLabel(p rag.Payload) string {
	if p.Page > 0 {
		return fmt.Sprintf("%s p.%d", p.SourceID, p.Page)
	}
	return p.SourceID
}
