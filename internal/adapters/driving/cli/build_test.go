package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"readme.md", "readme"},
		{"guides/Getting Started.md", "guides-getting-started"},
		{"a/b/c.txt", "a-b-c"},
		{"UPPER_case-file.md", "upper-case-file"},
		{"weird!!name??.txt", "weird-name"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), "slugify(%q)", tt.in)
	}
}

func TestDocumentTitle(t *testing.T) {
	t.Run("first heading wins", func(t *testing.T) {
		content := "preamble\n\n# The Real Title\n\n# Second Heading\n"
		assert.Equal(t, "The Real Title", documentTitle("notes/file.md", content))
	})

	t.Run("falls back to file name", func(t *testing.T) {
		assert.Equal(t, "file", documentTitle("notes/file.md", "no headings here"))
	})
}

func TestIsSourceFile(t *testing.T) {
	assert.True(t, isSourceFile("a/b.md"))
	assert.True(t, isSourceFile("a/b.TXT"))
	assert.False(t, isSourceFile("a/b.pdf"))
	assert.False(t, isSourceFile("a/b"))
}

func TestCollectDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "guides"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "readme.md"), []byte("# Readme\n\nHello."), 0o600))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "guides", "setup.txt"), []byte("Setup steps."), 0o600))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "image.png"), []byte{0x89}, 0o600))

	docs, err := collectDocuments(dir, "default")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byID := make(map[string]string)
	for _, d := range docs {
		byID[d.ID] = d.Title
		assert.Equal(t, "default", d.CollectionID)
	}
	assert.Equal(t, "Readme", byID["readme"])
	assert.Equal(t, "setup", byID["guides-setup"])
}

func TestCollectDocuments_EmptyDir(t *testing.T) {
	docs, err := collectDocuments(t.TempDir(), "default")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
