// Package ai provides factory functions for creating AI provider adapters.
package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	geminiembed "github.com/custodia-labs/dalil/internal/adapters/driven/embedding/gemini"
	ollamaembed "github.com/custodia-labs/dalil/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/dalil/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/dalil/internal/adapters/driven/llm/anthropic"
	geminillm "github.com/custodia-labs/dalil/internal/adapters/driven/llm/gemini"
	ollamallm "github.com/custodia-labs/dalil/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/dalil/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// probeTTL is how long an Ollama reachability result stays cached. The
// fallback chain consults the probe once per embedding resolution, which
// during a build can mean hundreds of calls.
const probeTTL = 30 * time.Second

// probeTimeout bounds one reachability check against the local daemon.
const probeTimeout = 2 * time.Second

// CreateChatStreamer creates the chat adapter for a provider profile.
func CreateChatStreamer(profile domain.ProviderProfile) (driven.ChatStreamer, error) {
	if !profile.IsConfigured() {
		return nil, fmt.Errorf("provider %q is not configured: %w",
			profile.Provider, domain.ErrInvalidInput)
	}

	switch profile.Provider {
	case domain.AIProviderOpenAI:
		return openaillm.NewStreamer(openaillm.Config{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
			Model:   profile.ChatModel,
		}), nil

	case domain.AIProviderAnthropic:
		return anthropicllm.NewStreamer(anthropicllm.Config{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
			Model:   profile.ChatModel,
		}), nil

	case domain.AIProviderGemini:
		return geminillm.NewStreamer(geminillm.Config{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
			Model:   profile.ChatModel,
		}), nil

	case domain.AIProviderOllama:
		return ollamallm.NewStreamer(ollamallm.Config{
			BaseURL: profile.BaseURL,
			Model:   profile.ChatModel,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", profile.Provider)
	}
}

// CreateAndValidateChatStreamer creates a chat adapter and validates
// connectivity with a bounded ping before handing it out.
func CreateAndValidateChatStreamer(profile domain.ProviderProfile) (driven.ChatStreamer, error) {
	svc, err := CreateChatStreamer(profile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	return svc, nil
}

// CreateEmbeddingService creates the embedding adapter for a provider
// profile. Chat-only providers fail with ErrUnsupportedOperation; use
// ResolveEmbeddingService to fall back across profiles instead.
func CreateEmbeddingService(profile domain.ProviderProfile) (driven.EmbeddingService, error) {
	if !profile.IsConfigured() {
		return nil, fmt.Errorf("provider %q is not configured: %w",
			profile.Provider, domain.ErrInvalidInput)
	}
	if !profile.Provider.SupportsEmbedding() {
		return nil, fmt.Errorf("%s has no embedding API: %w",
			profile.Provider, domain.ErrUnsupportedOperation)
	}

	switch profile.Provider {
	case domain.AIProviderOpenAI:
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
			Model:   profile.EmbeddingModel,
		})

	case domain.AIProviderGemini:
		return geminiembed.NewEmbeddingService(geminiembed.Config{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
			Model:   profile.EmbeddingModel,
		})

	case domain.AIProviderOllama:
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL: profile.BaseURL,
			Model:   profile.EmbeddingModel,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", profile.Provider)
	}
}

// CreateAndValidateEmbeddingService creates an embedding adapter and
// validates connectivity with a bounded ping before handing it out.
func CreateAndValidateEmbeddingService(profile domain.ProviderProfile) (driven.EmbeddingService, error) {
	svc, err := CreateEmbeddingService(profile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}

	return svc, nil
}

// ollamaProbe caches whether a local Ollama daemon answered recently.
type ollamaProbe struct {
	mu        sync.Mutex
	checkedAt time.Time
	reachable bool
}

var defaultProbe = &ollamaProbe{}

// reachableNow reports daemon reachability, rechecking only after the
// cached result expires.
func (p *ollamaProbe) reachableNow(baseURL string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checkedAt.IsZero() && time.Since(p.checkedAt) < probeTTL {
		return p.reachable
	}

	svc := ollamaembed.NewEmbeddingService(ollamaembed.Config{BaseURL: baseURL})
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	p.reachable = svc.Ping(ctx) == nil
	p.checkedAt = time.Now()
	return p.reachable
}

// ResolveEmbeddingService returns an embedding adapter for the selected
// provider, falling back when it is chat-only. The chain prefers a local
// Ollama daemon (free, no credential), then OpenAI, then Gemini from the
// configured profiles. Fails with ErrEmbeddingUnavailable when nothing in
// the chain is usable; the caller degrades to sparse-only retrieval.
func ResolveEmbeddingService(
	primary domain.ProviderProfile,
	profiles map[domain.AIProvider]domain.ProviderProfile,
) (driven.EmbeddingService, error) {
	return resolveEmbeddingService(primary, profiles, defaultProbe)
}

func resolveEmbeddingService(
	primary domain.ProviderProfile,
	profiles map[domain.AIProvider]domain.ProviderProfile,
	probe *ollamaProbe,
) (driven.EmbeddingService, error) {
	if primary.Provider.SupportsEmbedding() {
		return CreateEmbeddingService(primary)
	}

	ollamaProfile, ok := profiles[domain.AIProviderOllama]
	if !ok {
		ollamaProfile = domain.ProviderProfile{Provider: domain.AIProviderOllama}
	}
	if probe.reachableNow(ollamaProfile.BaseURL) {
		return CreateEmbeddingService(ollamaProfile)
	}

	for _, candidate := range []domain.AIProvider{domain.AIProviderOpenAI, domain.AIProviderGemini} {
		if p, ok := profiles[candidate]; ok && p.IsConfigured() {
			return CreateEmbeddingService(p)
		}
	}

	return nil, fmt.Errorf("no embedding-capable provider configured for %s: %w",
		primary.Provider, domain.ErrEmbeddingUnavailable)
}

// TestProviderConnection validates a profile end to end: the chat backend
// must answer a ping, and so must the embedding backend when the provider
// has one. Used by the settings flow to vet credentials before saving.
func TestProviderConnection(ctx context.Context, profile domain.ProviderProfile) error {
	chat, err := CreateChatStreamer(profile)
	if err != nil {
		return err
	}
	defer chat.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := chat.Ping(pingCtx); err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	if !profile.Provider.SupportsEmbedding() {
		return nil
	}

	embed, err := CreateEmbeddingService(profile)
	if err != nil {
		return err
	}
	defer embed.Close()

	pingCtx, cancel = context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := embed.Ping(pingCtx); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	return nil
}
