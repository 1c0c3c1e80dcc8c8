package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthChecker probes a backend without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// httpCheck issues one GET and treats any 2xx as healthy.
type httpCheck struct {
	client *http.Client
	url    string
	header http.Header
}

// HealthCheck implements HealthChecker.
func (h *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: %s returned %d", h.url, resp.StatusCode)
	}
	return nil
}

// NewHealthChecker returns a model-listing probe for the configured backend.
// Ark exposes no cheap listing endpoint, so it returns nil and callers fall
// back to a generate probe.
func NewHealthChecker(cfg *Config, client *http.Client) HealthChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	h := &httpCheck{client: client, header: http.Header{}}

	switch cfg.Backend {
	case BackendOllama:
		h.url = strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		h.url = strings.TrimRight(base, "/") + "/models"
		h.header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
	case BackendAzure:
		h.url = strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") +
			"/openai/models?api-version=" + cfg.AzureOpenAI.APIVersion
		h.header.Set("api-key", cfg.AzureOpenAI.APIKey)
	case BackendGemini:
		h.url = "https://generativelanguage.googleapis.com/v1beta/models"
		h.header.Set("x-goog-api-key", cfg.Gemini.APIKey)
	default:
		return nil
	}
	return h
}
