// Package decoder extracts plain text from source documents.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docrag/src/core/rag"
	"docrag/src/log"
)

// File is a source document loaded into memory.
type File struct {
	Path     string
	Name     string
	Data     []byte
	MimeType string
}

// PageStart marks the rune offset at which a page begins in Extraction.Text.
type PageStart struct {
	Page   int `json:"page"`
	Offset int `json:"offset"`
}

// Extraction is the decoded text of a file.
type Extraction struct {
	Text  string      `json:"text"`
	Pages []PageStart `json:"pages,omitempty"`
}

// PageAt returns the page containing the rune offset, or 0 when the source
// has no pages.
func (e Extraction) PageAt(offset int) int {
	page := 0
	for _, p := range e.Pages {
		if p.Offset > offset {
			break
		}
		page = p.Page
	}
	return page
}

// ErrUnavailable marks a strategy whose backing tool is not installed. Such
// a strategy is skipped, so it never makes a file count as unreadable.
var ErrUnavailable = errors.New("extractor unavailable")

// Strategy is one way of getting text out of a file. An empty result or an
// error both mean "try the next strategy".
type Strategy interface {
	Name() string
	Extract(ctx context.Context, file File) (Extraction, error)
}

// FileReader loads a document by path.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Decoder runs the ordered strategies registered for a file type.
type Decoder struct {
	files      FileReader
	strategies map[rag.FileType][]Strategy
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithStrategies appends strategies for a file type, tried in the given order.
func WithStrategies(fileType rag.FileType, strategies ...Strategy) Option {
	return func(d *Decoder) {
		for _, s := range strategies {
			if s != nil {
				d.strategies[fileType] = append(d.strategies[fileType], s)
			}
		}
	}
}

// New creates a decoder reading files through files.
func New(files FileReader, opts ...Option) *Decoder {
	d := &Decoder{
		files:      files,
		strategies: make(map[rag.FileType][]Strategy),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode loads path and extracts its text. When fileType is empty the type
// is taken from the extension or sniffed from the content.
func (d *Decoder) Decode(ctx context.Context, path string, fileType rag.FileType) (Extraction, rag.FileType, error) {
	data, err := d.files.ReadFile(ctx, path)
	if err != nil {
		transient := !errors.Is(err, fs.ErrNotExist)
		return Extraction{}, fileType, rag.NewError(rag.ErrDecode, transient, err, "failed to read %s", path)
	}

	if fileType == "" {
		fileType, err = DetectFileType(path, data)
		if err != nil {
			return Extraction{}, fileType, err
		}
	}

	strategies := d.strategies[fileType]
	if len(strategies) == 0 {
		return Extraction{}, fileType, rag.NewError(rag.ErrDecode, false, rag.ErrUnsupportedFileType,
			"no extractor for file type %q", fileType)
	}

	file := File{
		Path:     path,
		Name:     filepath.Base(path),
		Data:     data,
		MimeType: mimetype.Detect(data).String(),
	}

	var reasons []string
	var transient, unreadable bool
	for _, s := range strategies {
		ext, err := s.Extract(ctx, file)
		if errors.Is(err, ErrUnavailable) {
			log.Debug("Extraction strategy unavailable", "strategy", s.Name(), "error", err.Error())
			reasons = append(reasons, s.Name()+": unavailable")
			continue
		}
		if err != nil {
			log.Debug("Extraction strategy failed", "strategy", s.Name(), "path", path, "error", err.Error())
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name(), err))
			transient = transient || !rag.IsPermanent(err)
			unreadable = true
			continue
		}
		if strings.TrimSpace(ext.Text) == "" {
			reasons = append(reasons, s.Name()+": empty")
			continue
		}

		log.Debug("Extracted text", "strategy", s.Name(), "path", path, "chars", len(ext.Text))
		return ext, fileType, nil
	}

	if transient {
		return Extraction{}, fileType, rag.NewError(rag.ErrDecode, true, nil,
			"extraction failed for %s (%s)", file.Name, strings.Join(reasons, "; "))
	}
	if unreadable {
		return Extraction{}, fileType, rag.NewError(rag.ErrDecode, false, nil,
			"corrupt or unreadable %s (%s)", file.Name, strings.Join(reasons, "; "))
	}
	return Extraction{}, fileType, rag.NewError(rag.ErrDecode, false, rag.ErrNoExtractableText,
		"%s (%s)", file.Name, strings.Join(reasons, "; "))
}

var extensionTypes = map[string]rag.FileType{
	".pdf":      rag.FileTypePDF,
	".docx":     rag.FileTypeWord,
	".png":      rag.FileTypeImage,
	".jpg":      rag.FileTypeImage,
	".jpeg":     rag.FileTypeImage,
	".bmp":      rag.FileTypeImage,
	".gif":      rag.FileTypeImage,
	".webp":     rag.FileTypeImage,
	".txt":      rag.FileTypeText,
	".md":       rag.FileTypeText,
	".markdown": rag.FileTypeText,
}

// FileTypeFromExtension maps a path's extension to a file type. A path
// without extension returns an empty type so the content can be sniffed later.
func FileTypeFromExtension(path string) (rag.FileType, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", nil
	}
	if ft, ok := extensionTypes[ext]; ok {
		return ft, nil
	}
	return "", rag.NewError(rag.ErrDecode, false, rag.ErrUnsupportedFileType, "extension %q", ext)
}

// ParseFileType validates a caller supplied file type.
func ParseFileType(s string) (rag.FileType, error) {
	switch ft := rag.FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case rag.FileTypePDF, rag.FileTypeWord, rag.FileTypeImage, rag.FileTypeText:
		return ft, nil
	}
	return "", rag.NewError(rag.ErrDecode, false, rag.ErrUnsupportedFileType, "file type %q", s)
}

// DetectFileType uses the extension when it is known and the content otherwise.
func DetectFileType(path string, data []byte) (rag.FileType, error) {
	ft, err := FileTypeFromExtension(path)
	if err != nil || ft != "" {
		return ft, err
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return rag.FileTypePDF, nil
	case mt.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return rag.FileTypeWord, nil
	case strings.HasPrefix(mt.String(), "image/"):
		return rag.FileTypeImage, nil
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return rag.FileTypeText, nil
		}
	}
	return "", rag.NewError(rag.ErrDecode, false, rag.ErrUnsupportedFileType, "content type %s", mt.String())
}
