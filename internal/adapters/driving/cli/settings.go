package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/dalil/internal/adapters/driven/ai"
	"github.com/custodia-labs/dalil/internal/core/domain"
)

// settingsTestTimeout bounds the connectivity check against a provider.
const settingsTestTimeout = 15 * time.Second

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage provider settings",
	Long: `View and configure AI provider profiles: API keys, base URLs, and
model overrides. Secrets are stored in the local config file and never
logged.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured providers",
	RunE:  runSettingsShow,
}

var settingsUseCmd = &cobra.Command{
	Use:   "use [provider]",
	Short: "Select the active provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsUse,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [provider]",
	Short: "Configure a provider profile",
	Long: `Prompts for the provider's API key (not echoed), base URL, and
model overrides. Empty answers keep the defaults.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSet,
}

var settingsTestCmd = &cobra.Command{
	Use:   "test [provider]",
	Short: "Test connectivity to a provider",
	Long: `Pings the provider's chat backend, and its embedding backend when
it has one. Defaults to the active provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSettingsTest,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsUseCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsTestCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}

	active, activeErr := cfg.ActiveProvider()

	cmd.Println("Providers")
	cmd.Println("=========")
	for _, provider := range domain.AllProviders() {
		profile := cfg.ProviderProfile(provider)

		marker := " "
		if activeErr == nil && provider == active {
			marker = "*"
		}
		cmd.Printf("%s %s\n", marker, provider.Description())

		if provider.RequiresAPIKey() {
			if profile.APIKey != "" {
				cmd.Printf("    API key: %s\n", profile.MaskedAPIKey())
			} else {
				cmd.Printf("    API key: (not set)\n")
			}
		}
		if profile.BaseURL != "" {
			cmd.Printf("    Base URL: %s\n", profile.BaseURL)
		}
		if profile.ChatModel != "" {
			cmd.Printf("    Chat model: %s\n", profile.ChatModel)
		}
		if profile.EmbeddingModel != "" {
			cmd.Printf("    Embedding model: %s\n", profile.EmbeddingModel)
		}
		if !provider.SupportsEmbedding() {
			cmd.Printf("    Embedding: unsupported (falls back to another provider)\n")
		}
		status := "configured"
		if !profile.IsConfigured() {
			status = "not configured"
		}
		cmd.Printf("    Status: %s\n", status)
	}

	if activeErr != nil {
		cmd.Println("\nNo active provider. Run 'dalil settings use <provider>'.")
	}
	return nil
}

func runSettingsUse(cmd *cobra.Command, args []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}

	provider := domain.AIProvider(args[0])
	if err := cfg.SetActiveProvider(provider); err != nil {
		return fmt.Errorf("set active provider: %w", err)
	}

	if !cfg.ProviderProfile(provider).IsConfigured() {
		cmd.Printf("Active provider set to %s (not configured yet, run 'dalil settings set %s')\n",
			provider, provider)
		return nil
	}

	cmd.Printf("Active provider set to %s\n", provider)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	provider := domain.AIProvider(args[0])
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q: %w", args[0], domain.ErrInvalidInput)
	}

	cfg, err := openConfig()
	if err != nil {
		return err
	}

	profile := cfg.ProviderProfile(provider)
	reader := bufio.NewReader(os.Stdin)

	if provider.RequiresAPIKey() {
		prompt := "Enter API key"
		if profile.APIKey != "" {
			prompt += fmt.Sprintf(" [%s]", profile.MaskedAPIKey())
		}
		cmd.Printf("%s: ", prompt)
		key := readPassword()
		cmd.Println()
		if key != "" {
			profile.APIKey = key
		}
		if profile.APIKey == "" {
			return fmt.Errorf("an API key is required for %s: %w", provider, domain.ErrInvalidInput)
		}
	}

	if provider.IsLocal() {
		cmd.Printf("Base URL [%s]: ", valueOr(profile.BaseURL, "http://localhost:11434"))
		if url := readLine(reader); url != "" {
			profile.BaseURL = url
		}
	}

	cmd.Printf("Chat model [%s]: ", valueOr(profile.ChatModel, "provider default"))
	if model := readLine(reader); model != "" {
		profile.ChatModel = model
	}

	if provider.SupportsEmbedding() {
		cmd.Printf("Embedding model [%s]: ", valueOr(profile.EmbeddingModel, "provider default"))
		if model := readLine(reader); model != "" {
			profile.EmbeddingModel = model
		}
	}

	if err := cfg.SaveProviderProfile(profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	cmd.Printf("Saved %s profile.\n", provider)
	return nil
}

func runSettingsTest(cmd *cobra.Command, args []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}

	override := ""
	if len(args) == 1 {
		override = args[0]
	}
	profile, err := activeProfile(cfg, override)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), settingsTestTimeout)
	defer cancel()

	cmd.Printf("Testing %s... ", profile.Provider)
	if err := ai.TestProviderConnection(ctx, profile); err != nil {
		cmd.Println("FAILED")
		return fmt.Errorf("provider test: %w", err)
	}
	cmd.Println("OK")
	return nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword() string {
	// Read without echo when attached to a terminal
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func valueOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
