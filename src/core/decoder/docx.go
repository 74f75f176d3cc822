package decoder

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"docrag/src/core/rag"
)

// DocxText walks word/document.xml and keeps paragraph and table layout.
type DocxText struct{}

func (DocxText) Name() string { return "docx-text" }

func (DocxText) Extract(_ context.Context, file File) (Extraction, error) {
	r, err := zip.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	if err != nil {
		return Extraction{}, rag.Permanent(fmt.Errorf("not a docx archive: %w", err))
	}

	var doc *zip.File
	for _, f := range r.File {
		if strings.EqualFold(f.Name, "word/document.xml") {
			doc = f
			break
		}
	}
	if doc == nil {
		return Extraction{}, rag.Permanent(errors.New("word/document.xml missing"))
	}

	rc, err := doc.Open()
	if err != nil {
		return Extraction{}, rag.Permanent(fmt.Errorf("failed to open document part: %w", err))
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return Extraction{}, rag.Permanent(err)
	}
	return Extraction{Text: text}, nil
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	lastWasNewline := true
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return "", fmt.Errorf("malformed text run: %w", err)
				}
				b.WriteString(text)
				lastWasNewline = false
			case "tab":
				b.WriteByte('\t')
				lastWasNewline = false
			case "br", "cr":
				b.WriteByte('\n')
				lastWasNewline = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "tr":
				if !lastWasNewline {
					b.WriteByte('\n')
					lastWasNewline = true
				}
			case "tc":
				b.WriteString(" | ")
				lastWasNewline = false
			}
		}
	}
	return b.String(), nil
}
