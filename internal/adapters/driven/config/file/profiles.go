package file

import (
	"fmt"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// Config keys for provider settings. Profiles nest under ai.<provider>.*
// in the TOML file; ai.provider names the active one.
const (
	keyActiveProvider = "ai.provider"

	keyAPIKey         = "api_key"
	keyBaseURL        = "base_url"
	keyChatModel      = "chat_model"
	keyEmbeddingModel = "embedding_model"
)

// ActiveProvider returns the provider selected in configuration, or
// ErrInvalidInput when none is set or the value is not a known provider.
func (s *ConfigStore) ActiveProvider() (domain.AIProvider, error) {
	raw := s.GetString(keyActiveProvider)
	if raw == "" {
		return "", fmt.Errorf("no provider configured: %w", domain.ErrInvalidInput)
	}

	provider := domain.AIProvider(raw)
	if !provider.IsValid() {
		return "", fmt.Errorf("unknown provider %q: %w", raw, domain.ErrInvalidInput)
	}
	return provider, nil
}

// SetActiveProvider selects the provider used for new requests.
func (s *ConfigStore) SetActiveProvider(provider domain.AIProvider) error {
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q: %w", provider, domain.ErrInvalidInput)
	}
	return s.Set(keyActiveProvider, provider.String())
}

// ProviderProfile assembles the stored profile for one provider.
func (s *ConfigStore) ProviderProfile(provider domain.AIProvider) domain.ProviderProfile {
	prefix := "ai." + provider.String() + "."
	return domain.ProviderProfile{
		Provider:       provider,
		APIKey:         s.GetString(prefix + keyAPIKey),
		BaseURL:        s.GetString(prefix + keyBaseURL),
		ChatModel:      s.GetString(prefix + keyChatModel),
		EmbeddingModel: s.GetString(prefix + keyEmbeddingModel),
	}
}

// SaveProviderProfile persists a provider profile. Empty fields are
// written as empty strings, clearing any previous value.
func (s *ConfigStore) SaveProviderProfile(profile domain.ProviderProfile) error {
	if !profile.Provider.IsValid() {
		return fmt.Errorf("unknown provider %q: %w", profile.Provider, domain.ErrInvalidInput)
	}

	prefix := "ai." + profile.Provider.String() + "."
	fields := map[string]string{
		prefix + keyAPIKey:         profile.APIKey,
		prefix + keyBaseURL:        profile.BaseURL,
		prefix + keyChatModel:      profile.ChatModel,
		prefix + keyEmbeddingModel: profile.EmbeddingModel,
	}
	for key, value := range fields {
		if err := s.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// AllProviderProfiles returns the stored profile of every known provider,
// configured or not. Used by the embedding fallback chain.
func (s *ConfigStore) AllProviderProfiles() map[domain.AIProvider]domain.ProviderProfile {
	providers := domain.AllProviders()

	profiles := make(map[domain.AIProvider]domain.ProviderProfile, len(providers))
	for _, p := range providers {
		profiles[p] = s.ProviderProfile(p)
	}
	return profiles
}
