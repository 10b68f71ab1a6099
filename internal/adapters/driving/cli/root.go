// Package cli implements the cobra command tree: the driving adapter that
// exposes ingest, ask, and settings operations to the terminal.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/dalil/internal/adapters/driven/config/file"
	"github.com/custodia-labs/dalil/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "dalil",
	Short: "Ask questions against your documents",
	Long: `Dalil indexes a directory of plain-text documents and answers
natural-language questions against them, grounding every answer in
retrieved context and streaming the result as it is generated.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openStore opens the SQLite store in the default data directory.
func openStore() (*sqlite.Store, error) {
	store, err := sqlite.NewStore("")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// openConfig opens the TOML config store in the default config directory.
func openConfig() (*file.ConfigStore, error) {
	cfg, err := file.NewConfigStore("")
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return cfg, nil
}

// activeProfile resolves the configured provider's profile, honouring an
// optional command-line override.
func activeProfile(cfg *file.ConfigStore, override string) (domain.ProviderProfile, error) {
	var provider domain.AIProvider
	if override != "" {
		provider = domain.AIProvider(override)
		if !provider.IsValid() {
			return domain.ProviderProfile{}, fmt.Errorf("unknown provider %q: %w", override, domain.ErrInvalidInput)
		}
	} else {
		var err error
		provider, err = cfg.ActiveProvider()
		if err != nil {
			return domain.ProviderProfile{}, fmt.Errorf("no provider selected, run 'dalil settings use <provider>': %w", err)
		}
	}

	profile := cfg.ProviderProfile(provider)
	if !profile.IsConfigured() {
		return domain.ProviderProfile{}, fmt.Errorf("provider %s is not configured, run 'dalil settings set %s': %w",
			provider, provider, domain.ErrInvalidInput)
	}
	return profile, nil
}
