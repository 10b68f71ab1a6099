package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/dalil/internal/adapters/driven/ai"
	"github.com/custodia-labs/dalil/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
	"github.com/custodia-labs/dalil/internal/core/ports/driving"
	"github.com/custodia-labs/dalil/internal/core/services"
	"github.com/custodia-labs/dalil/internal/logger"
	"github.com/custodia-labs/dalil/internal/postprocessors"
)

var (
	buildWatch      bool
	buildCollection string
)

var buildCmd = &cobra.Command{
	Use:   "build [dir]",
	Short: "Index a directory of documents",
	Long: `Reads .md and .txt files under the given directory, chunks them,
indexes them for keyword search, and generates embeddings when an
embedding-capable provider is configured. Without one the index still
works with keyword search only.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildWatch, "watch", "w", false, "re-index files as they change")
	buildCmd.Flags().StringVar(&buildCollection, "collection", "default", "collection to index into")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := openConfig()
	if err != nil {
		return err
	}

	ingestor, err := newIngestor(cmd, store, cfg)
	if err != nil {
		return err
	}

	docs, err := collectDocuments(dir, buildCollection)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(docs) == 0 && !buildWatch {
		cmd.Printf("No .md or .txt files found under %s\n", dir)
		return nil
	}

	status, err := ingestor.Ingest(cmd.Context(), docs)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	printIngestStatus(cmd, status)

	if !buildWatch {
		return nil
	}
	return watchAndRebuild(cmd, ingestor, dir)
}

// newIngestor wires the build pipeline: chunker configuration comes from
// the config store, the embedding backend from the provider profiles.
// A missing or unreachable embedding backend is a degradation, not an
// error.
func newIngestor(cmd *cobra.Command, store storeHandles, cfg *file.ConfigStore) (*services.Ingestor, error) {
	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)

	chunkerCfg := map[string]any{}
	if target := cfg.GetInt("chunker.target_tokens"); target > 0 {
		chunkerCfg["target_tokens"] = target
	}
	if overlap := cfg.GetInt("chunker.overlap_tokens"); overlap > 0 {
		chunkerCfg["overlap_tokens"] = overlap
	}

	proc, err := registry.Build("chunker", chunkerCfg)
	if err != nil {
		return nil, fmt.Errorf("build chunker: %w", err)
	}
	pipeline := postprocessors.NewPipeline(proc)

	embedder := resolveBuildEmbedder(cmd, cfg)

	return services.NewIngestor(
		store.DocumentStore(),
		store.SearchEngine(),
		store.VectorIndex(),
		pipeline,
		embedder,
	), nil
}

// storeHandles is the slice of the SQLite store the ingestor needs.
type storeHandles interface {
	DocumentStore() driven.DocumentStore
	SearchEngine() driven.SearchEngine
	VectorIndex() driven.VectorIndex
}

// resolveBuildEmbedder picks an embedding backend from the configured
// profiles, or nil for a sparse-only build.
func resolveBuildEmbedder(cmd *cobra.Command, cfg *file.ConfigStore) driven.EmbeddingService {
	provider, err := cfg.ActiveProvider()
	if err != nil {
		cmd.Println("No provider configured; building keyword index only.")
		return nil
	}

	embedder, err := ai.ResolveEmbeddingService(cfg.ProviderProfile(provider), cfg.AllProviderProfiles())
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			cmd.Println("No embedding backend reachable; building keyword index only.")
			return nil
		}
		logger.Warn("Embedding setup failed: %v", err)
		return nil
	}

	cmd.Printf("Embedding with %s\n", embedder.ModelName())
	return embedder
}

// collectDocuments reads every .md and .txt file under dir into documents
// with path-derived slug ids.
func collectDocuments(dir, collection string) ([]domain.Document, error) {
	var docs []domain.Document

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSourceFile(path) {
			return nil
		}

		doc, err := readDocument(dir, path, collection)
		if err != nil {
			// Unreadable file: skip it, the batch continues
			logger.Warn("Skipping %s: %v", path, err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

func isSourceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	default:
		return false
	}
}

// readDocument loads one source file into a document. The id is a slug
// derived from the path relative to the build root, so rebuilding the same
// tree replaces documents instead of duplicating them.
func readDocument(root, path, collection string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	content := string(data)
	return domain.Document{
		ID:           slugify(rel),
		CollectionID: collection,
		Title:        documentTitle(rel, content),
		Content:      content,
		Path:         path,
	}, nil
}

// slugify turns a relative path into a stable document id:
// "guides/Getting Started.md" becomes "guides-getting-started".
func slugify(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))

	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(rel) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// documentTitle prefers the first markdown heading, falling back to the
// file name.
func documentTitle(rel, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(after)
		}
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func printIngestStatus(cmd *cobra.Command, status *driving.IngestStatus) {
	cmd.Printf("Indexed %d documents (%d chunks, %d embedded)\n",
		status.DocumentsProcessed, status.ChunksIndexed, status.ChunksEmbedded)
	if status.ErrorCount > 0 {
		cmd.Printf("Skipped %d documents with errors\n", status.ErrorCount)
	}
}

// watchAndRebuild re-ingests source files as they change, until
// interrupted. Events are debounced per path since editors fire several
// writes per save.
func watchAndRebuild(cmd *cobra.Command, ingestor *services.Ingestor, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the whole tree; fsnotify does not recurse on its own
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	cmd.Printf("Watching %s for changes (Ctrl-C to stop)\n", dir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = watcher.Add(event.Name)
				continue
			}
			if isSourceFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			for path, seen := range pending {
				if time.Since(seen) < 300*time.Millisecond {
					continue
				}
				delete(pending, path)

				doc, err := readDocument(dir, path, buildCollection)
				if err != nil {
					logger.Warn("Re-index %s failed: %v", path, err)
					continue
				}
				status, err := ingestor.Ingest(cmd.Context(), []domain.Document{doc})
				if err != nil {
					logger.Warn("Re-index %s failed: %v", path, err)
					continue
				}
				cmd.Printf("Re-indexed %s (%d chunks)\n", doc.ID, status.ChunksIndexed)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)

		case <-sig:
			cmd.Println("\nStopped watching.")
			return nil
		}
	}
}
