package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"docrag/src/core/rag"
)

// VisionInstruction is sent with every image to the vision model.
const VisionInstruction = "Extract all text content from this image. " +
	"If there are tables, preserve their structure. " +
	"If there are diagrams or charts, describe them in detail."

const DefaultOCRMinChars = 20

// CommandRunner executes an external program with stdin and returns stdout.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// OCR is the fast local pass over an image using tesseract. Results shorter
// than MinChars count as empty so the next strategy gets a chance.
type OCR struct {
	Runner   CommandRunner
	Command  string
	Language string
	MinChars int
}

// NewOCR creates a tesseract strategy with default settings.
func NewOCR(runner CommandRunner, command string, minChars int) *OCR {
	if runner == nil {
		runner = ExecRunner{}
	}
	if command == "" {
		command = "tesseract"
	}
	if minChars <= 0 {
		minChars = DefaultOCRMinChars
	}
	return &OCR{Runner: runner, Command: command, Language: "eng", MinChars: minChars}
}

func (o *OCR) Name() string { return "ocr" }

func (o *OCR) Extract(ctx context.Context, file File) (Extraction, error) {
	out, err := o.Runner.Run(ctx, file.Data, o.Command, "stdin", "stdout", "-l", o.Language)
	if err != nil {
		var notFound *exec.Error
		if errors.As(err, &notFound) {
			return Extraction{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Extraction{}, rag.Permanent(fmt.Errorf("ocr failed: %w", err))
	}

	text := strings.TrimSpace(string(out))
	if utf8.RuneCountInString(text) < o.MinChars {
		return Extraction{}, nil
	}
	return Extraction{Text: text}, nil
}

// Vision asks a vision capable language model to read the image.
type Vision struct {
	Model       rag.VisionModel
	Instruction string
}

// NewVision creates the vision fallback with the standard instruction.
func NewVision(model rag.VisionModel) *Vision {
	return &Vision{Model: model, Instruction: VisionInstruction}
}

func (v *Vision) Name() string { return "vision" }

func (v *Vision) Extract(ctx context.Context, file File) (Extraction, error) {
	text, err := v.Model.DescribeImage(ctx, file.Data, file.MimeType, v.Instruction)
	if err != nil {
		return Extraction{}, fmt.Errorf("vision model: %w", err)
	}
	return Extraction{Text: strings.TrimSpace(text)}, nil
}
