package domain

const unknownDescription = "Unknown"

// AIProvider identifies a completion/embedding backend.
// The set is closed: every arm has exactly one chat adapter and, where the
// backend offers one, one embedding adapter.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOpenAI is the OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is the Anthropic cloud API (chat only,
	// no embedding endpoint).
	AIProviderAnthropic AIProvider = "anthropic"

	// AIProviderGemini is the Google Gemini cloud API.
	AIProviderGemini AIProvider = "gemini"

	// AIProviderOllama is a local Ollama daemon.
	AIProviderOllama AIProvider = "ollama"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderAnthropic, AIProviderGemini, AIProviderOllama:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic || p == AIProviderGemini
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// SupportsEmbedding returns true if this provider exposes an embedding API.
// Anthropic does not; callers fall back to another configured provider or
// skip dense retrieval.
func (p AIProvider) SupportsEmbedding() bool {
	return p != AIProviderAnthropic
}

// AllProviders returns every known provider, in display order.
func AllProviders() []AIProvider {
	return []AIProvider{
		AIProviderOpenAI,
		AIProviderAnthropic,
		AIProviderGemini,
		AIProviderOllama,
	}
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	case AIProviderGemini:
		return "Gemini (cloud)"
	case AIProviderOllama:
		return "Ollama (local)"
	default:
		return unknownDescription
	}
}

// ProviderProfile is the resolved configuration for one backend.
// Profiles are owned by the settings store; the core only ever reads a
// resolved profile per request and never persists secrets itself.
type ProviderProfile struct {
	// Provider selects the backend kind.
	Provider AIProvider

	// APIKey authenticates cloud providers. Empty for local backends.
	APIKey string

	// BaseURL overrides the backend endpoint. Required for Ollama,
	// optional elsewhere.
	BaseURL string

	// ChatModel overrides the default chat model.
	ChatModel string

	// EmbeddingModel overrides the default embedding model.
	EmbeddingModel string
}

// IsConfigured returns true when the profile has the credentials or
// endpoint its provider kind needs.
func (p ProviderProfile) IsConfigured() bool {
	if !p.Provider.IsValid() {
		return false
	}
	if p.Provider.RequiresAPIKey() {
		return p.APIKey != ""
	}
	return true
}

// MaskedAPIKey returns the API key with all but the first and last four
// characters elided, for display.
func (p ProviderProfile) MaskedAPIKey() string {
	key := p.APIKey
	if len(key) <= 8 {
		return repeatRune('*', len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func repeatRune(r rune, n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
