package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

func TestConsoleSink_StreamsAndPrintsSources(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf)

	sink.OnSources(domain.AnswerSources{RequestID: "r1", Sources: []domain.SourceReference{
		{ChunkID: "c1", DocumentID: "doc-1", DocTitle: "Setup Guide", HeadingContext: "Install"},
		{ChunkID: "c2", DocumentID: "doc-2"},
	}})
	sink.OnDelta(domain.AnswerDelta{RequestID: "r1", Content: "Run "})
	sink.OnDelta(domain.AnswerDelta{RequestID: "r1", Content: "make install."})
	sink.OnDone(domain.AnswerDone{RequestID: "r1"})

	select {
	case err := <-sink.terminal:
		require.NoError(t, err)
	default:
		t.Fatal("no terminal outcome delivered")
	}

	out := buf.String()
	assert.Contains(t, out, "Run make install.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "[1] Setup Guide > Install")
	// Untitled documents fall back to their id
	assert.Contains(t, out, "[2] doc-2")
}

func TestConsoleSink_Cancelled(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf)

	sink.OnDone(domain.AnswerDone{RequestID: "r1", Cancelled: true})

	select {
	case err := <-sink.terminal:
		require.NoError(t, err)
	default:
		t.Fatal("no terminal outcome delivered")
	}
	assert.Contains(t, buf.String(), "Cancelled.")
}

func TestConsoleSink_Failure(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf)

	sink.OnFailure(domain.AnswerFailure{RequestID: "r1", Message: "provider unreachable"})

	select {
	case err := <-sink.terminal:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider unreachable")
	default:
		t.Fatal("no terminal outcome delivered")
	}
}

func TestConsoleSink_NoContextNotice(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf)

	sink.OnSources(domain.AnswerSources{RequestID: "r1"})

	assert.Contains(t, buf.String(), "No matching context found")
}

func TestVersionCommand(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "dalil version")
}
