// Package gemini provides a chat streaming adapter for the Google Gemini API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// Ensure Streamer implements the interface.
var _ driven.ChatStreamer = (*Streamer)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultChatModel = "gemini-1.5-flash"
	DefaultTimeout   = 120 * time.Second
)

// Config holds configuration for the Gemini chat streamer.
type Config struct {
	// APIKey is the Google AI API key (required).
	APIKey string

	// BaseURL is the API base URL
	// (default: https://generativelanguage.googleapis.com/v1beta).
	BaseURL string

	// Model is the chat model to use (default: gemini-1.5-flash).
	Model string

	// Timeout is the fallback deadline applied when the caller's context
	// carries none (default: 120s).
	Timeout time.Duration
}

// Streamer streams chat completions from Gemini over SSE.
type Streamer struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

// generateRequest is the streamGenerateContent request format.
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// content is the Gemini message format. Roles are "user" and "model".
type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

// streamEvent is one SSE data payload of the generation stream.
type streamEvent struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// NewStreamer creates a new Gemini chat streamer.
func NewStreamer(cfg Config) *Streamer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// No client-level timeout: it would cap total stream duration. The
	// context deadline bounds the call instead.
	return &Streamer{
		client:  &http.Client{},
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// StreamChat sends messages and pushes answer increments to onDelta.
// Some Gemini deployments resend the full accumulated text in later
// events instead of an increment; emitted text is tracked and any
// repeated prefix is cut before pushing. Cancelling ctx aborts the HTTP
// request, which stops upstream token generation and its billing.
func (s *Streamer) StreamChat(
	ctx context.Context,
	messages []driven.ChatMessage,
	opts driven.ChatOptions,
	onDelta driven.DeltaFunc,
) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reqBody := buildRequest(messages, opts)

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		s.baseURL, s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini error (status %d): %s: %w",
			resp.StatusCode, string(body), domain.ErrProviderUnavailable)
	}

	var emitted strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if len(event.Candidates) == 0 {
			continue
		}

		var text strings.Builder
		for _, p := range event.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}

		delta := text.String()
		if strings.HasPrefix(delta, emitted.String()) {
			delta = delta[emitted.Len():]
		}
		if delta == "" {
			continue
		}

		emitted.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// buildRequest converts port-level messages into the Gemini wire shape.
// The system message travels as systemInstruction; assistant history maps
// to the "model" role.
func buildRequest(messages []driven.ChatMessage, opts driven.ChatOptions) generateRequest {
	var reqBody generateRequest
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			reqBody.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
		case "assistant":
			reqBody.Contents = append(reqBody.Contents, content{
				Role:  "model",
				Parts: []part{{Text: msg.Content}},
			})
		default:
			reqBody.Contents = append(reqBody.Contents, content{
				Role:  "user",
				Parts: []part{{Text: msg.Content}},
			})
		}
	}

	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		reqBody.GenerationConfig = &generationConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
		}
	}

	return reqBody
}

// ModelName returns the name of the chat model being used.
func (s *Streamer) ModelName() string {
	return s.model
}

// Ping validates the API key by fetching model metadata. No tokens are
// consumed.
func (s *Streamer) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", s.baseURL, s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("gemini: failed to create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini: API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close releases resources.
func (s *Streamer) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
