package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dalil/internal/adapters/driven/ai"
	"github.com/custodia-labs/dalil/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
	"github.com/custodia-labs/dalil/internal/core/services"
)

var askProvider string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the indexed documents",
	Long: `Retrieves the most relevant chunks from the index and streams a
context-grounded answer from the configured provider. Ctrl-C cancels the
in-flight request.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProvider, "provider", "p", "", "provider override (openai, anthropic, gemini, ollama)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := openConfig()
	if err != nil {
		return err
	}

	profile, err := activeProfile(cfg, askProvider)
	if err != nil {
		return err
	}

	prompts, err := file.NewPromptStore("")
	if err != nil {
		return fmt.Errorf("open prompt store: %w", err)
	}

	retriever := services.NewRetrievalService(
		store.DocumentStore(), store.SearchEngine(), store.VectorIndex())

	sink := newConsoleSink(cmd.OutOrStdout())

	mgr := services.NewAskManager(
		retriever,
		store.DocumentStore(),
		prompts,
		sink,
		func(_ domain.AIProvider) (driven.ChatStreamer, error) {
			return ai.CreateChatStreamer(profile)
		},
		func(_ domain.AIProvider) (driven.EmbeddingService, error) {
			return ai.ResolveEmbeddingService(profile, cfg.AllProviderProfiles())
		},
	)

	id, err := mgr.Submit(context.Background(), "", question, profile.Provider)
	if err != nil {
		return fmt.Errorf("submit question: %w", err)
	}

	// Ctrl-C propagates to the in-flight provider call via Cancel
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			mgr.Cancel(id)
		case outcome := <-sink.terminal:
			return outcome
		}
	}
}

// consoleSink streams one request's events to a writer. Deltas go out as
// they arrive; sources print as a header before the first delta and as a
// footer list after completion.
type consoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	sources  []domain.SourceReference
	streamed bool
	terminal chan error
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w, terminal: make(chan error, 1)}
}

func (s *consoleSink) OnSources(e domain.AnswerSources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = e.Sources
	if len(e.Sources) == 0 {
		fmt.Fprintln(s.w, "No matching context found; answering without grounding.")
	}
}

func (s *consoleSink) OnDelta(e domain.AnswerDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamed = true
	fmt.Fprint(s.w, e.Content)
}

func (s *consoleSink) OnDone(e domain.AnswerDone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Cancelled {
		fmt.Fprintln(s.w, "\nCancelled.")
		s.terminal <- nil
		return
	}

	if s.streamed {
		fmt.Fprintln(s.w)
	}
	if len(s.sources) > 0 {
		fmt.Fprintln(s.w, "\nSources:")
		for i, src := range s.sources {
			label := src.DocTitle
			if label == "" {
				label = src.DocumentID
			}
			if src.HeadingContext != "" {
				label += " > " + src.HeadingContext
			}
			fmt.Fprintf(s.w, "  [%d] %s\n", i+1, label)
		}
	}
	s.terminal <- nil
}

func (s *consoleSink) OnFailure(e domain.AnswerFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal <- fmt.Errorf("answer failed: %s", e.Message)
}
