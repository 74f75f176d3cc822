package decoder

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"

	"docrag/src/core/rag"
)

// PlainText accepts UTF-8 text files as they are.
type PlainText struct{}

func (PlainText) Name() string { return "plain-text" }

func (PlainText) Extract(_ context.Context, file File) (Extraction, error) {
	data := bytes.TrimPrefix(file.Data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return Extraction{}, rag.Permanent(errors.New("file is not valid UTF-8"))
	}
	return Extraction{Text: string(data)}, nil
}
