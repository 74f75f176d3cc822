package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/core/rag"
)

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "notes.txt", "scan.png", "archive.zip", "sub/b.docx"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	explicit := filepath.Join(dir, "archive.zip")

	paths, err := expandPaths([]string{dir, explicit})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(dir, "scan.png"),
		filepath.Join(dir, "sub", "b.docx"),
		explicit,
	}, paths)

	_, err = expandPaths([]string{filepath.Join(dir, "missing.pdf")})
	assert.Error(t, err)
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	printAnswer(&buf, &rag.Answer{
		Text:        "Revenue grew 12%.",
		NumContexts: 2,
		Citations: []rag.Citation{
			{SourceID: "report.pdf", ChunkIndex: 3, Page: 2, Score: 0.91},
			{SourceID: "notes.txt", ChunkIndex: 0, Score: 0.5},
		},
	})

	assert.Equal(t, "Revenue grew 12%.\n\nSources (2 contexts):\n"+
		"  - report.pdf #3 (page 2, score 0.910)\n"+
		"  - notes.txt #0 (score 0.500)\n", buf.String())
}
