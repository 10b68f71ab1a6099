package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

func TestCreateChatStreamer(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.ProviderProfile
		wantErr error
	}{
		{
			name:    "openai",
			profile: domain.ProviderProfile{Provider: domain.AIProviderOpenAI, APIKey: "sk-test"},
		},
		{
			name:    "anthropic",
			profile: domain.ProviderProfile{Provider: domain.AIProviderAnthropic, APIKey: "sk-ant-test"},
		},
		{
			name:    "gemini",
			profile: domain.ProviderProfile{Provider: domain.AIProviderGemini, APIKey: "key"},
		},
		{
			name:    "ollama needs no key",
			profile: domain.ProviderProfile{Provider: domain.AIProviderOllama},
		},
		{
			name:    "cloud provider without key",
			profile: domain.ProviderProfile{Provider: domain.AIProviderOpenAI},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "unknown provider",
			profile: domain.ProviderProfile{Provider: "mystery"},
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateChatStreamer(tt.profile)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, svc)
			assert.NotEmpty(t, svc.ModelName())
			assert.NoError(t, svc.Close())
		})
	}
}

func TestCreateChatStreamer_ModelOverride(t *testing.T) {
	svc, err := CreateChatStreamer(domain.ProviderProfile{
		Provider:  domain.AIProviderOllama,
		ChatModel: "mistral",
	})
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, "mistral", svc.ModelName())
}

func TestCreateEmbeddingService(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		svc, err := CreateEmbeddingService(domain.ProviderProfile{
			Provider: domain.AIProviderOpenAI,
			APIKey:   "sk-test",
		})
		require.NoError(t, err)
		defer svc.Close()
		assert.Equal(t, "text-embedding-3-small", svc.ModelName())
		assert.Equal(t, 1536, svc.Dimensions())
	})

	t.Run("ollama", func(t *testing.T) {
		svc, err := CreateEmbeddingService(domain.ProviderProfile{
			Provider: domain.AIProviderOllama,
		})
		require.NoError(t, err)
		defer svc.Close()
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
		assert.Equal(t, 768, svc.Dimensions())
	})

	t.Run("anthropic is chat only", func(t *testing.T) {
		_, err := CreateEmbeddingService(domain.ProviderProfile{
			Provider: domain.AIProviderAnthropic,
			APIKey:   "sk-ant-test",
		})
		assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	})
}

func TestResolveEmbeddingService_DirectProvider(t *testing.T) {
	svc, err := resolveEmbeddingService(domain.ProviderProfile{
		Provider: domain.AIProviderGemini,
		APIKey:   "key",
	}, nil, &ollamaProbe{})
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, "text-embedding-004", svc.ModelName())
}

func TestResolveEmbeddingService_FallbackSkipsUnreachableOllama(t *testing.T) {
	// Pre-expired cache marked unreachable stays unreachable within TTL,
	// so the chain moves on to the next configured provider.
	probe := &ollamaProbe{checkedAt: time.Now(), reachable: false}

	profiles := map[domain.AIProvider]domain.ProviderProfile{
		domain.AIProviderOpenAI: {Provider: domain.AIProviderOpenAI, APIKey: "sk-test"},
	}

	svc, err := resolveEmbeddingService(domain.ProviderProfile{
		Provider: domain.AIProviderAnthropic,
		APIKey:   "sk-ant-test",
	}, profiles, probe)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, "text-embedding-3-small", svc.ModelName())
}

func TestResolveEmbeddingService_FallbackPrefersReachableOllama(t *testing.T) {
	probe := &ollamaProbe{checkedAt: time.Now(), reachable: true}

	profiles := map[domain.AIProvider]domain.ProviderProfile{
		domain.AIProviderOpenAI: {Provider: domain.AIProviderOpenAI, APIKey: "sk-test"},
	}

	svc, err := resolveEmbeddingService(domain.ProviderProfile{
		Provider: domain.AIProviderAnthropic,
		APIKey:   "sk-ant-test",
	}, profiles, probe)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, "nomic-embed-text", svc.ModelName())
}

func TestResolveEmbeddingService_NothingUsable(t *testing.T) {
	probe := &ollamaProbe{checkedAt: time.Now(), reachable: false}

	_, err := resolveEmbeddingService(domain.ProviderProfile{
		Provider: domain.AIProviderAnthropic,
		APIKey:   "sk-ant-test",
	}, nil, probe)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestOllamaProbe_CachesResult(t *testing.T) {
	// A fresh negative result must be served from cache without a new
	// network attempt; reachableNow against a dead port proves the cache
	// by returning instantly.
	probe := &ollamaProbe{checkedAt: time.Now(), reachable: false}

	start := time.Now()
	got := probe.reachableNow("http://127.0.0.1:1")
	assert.False(t, got)
	assert.Less(t, time.Since(start), probeTimeout)
}
