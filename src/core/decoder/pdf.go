package decoder

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docrag/src/core/rag"
)

// PDFText reads the text layer of a PDF page by page.
type PDFText struct{}

func (PDFText) Name() string { return "pdf-text" }

func (PDFText) Extract(_ context.Context, file File) (ext Extraction, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = rag.Permanent(fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return Extraction{}, rag.Permanent(fmt.Errorf("corrupt or encrypted pdf: %w", err))
	}

	var b strings.Builder
	offset := 0
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Extraction{}, rag.Permanent(fmt.Errorf("page %d: %w", i, err))
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}

		ext.Pages = append(ext.Pages, PageStart{Page: i, Offset: offset})
		b.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}

	ext.Text = b.String()
	return ext, nil
}
