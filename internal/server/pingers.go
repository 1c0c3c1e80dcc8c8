package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/provider"
)

// LLMPinger probes the chat model backend. It prefers the backend's
// zero-cost HTTP probe and falls back to a one-message Generate call.
type LLMPinger struct {
	// model is probed only when healthCheck is nil.
	model model.BaseChatModel
	// healthCheck is the backend's HTTP probe, nil when the backend has none.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger. hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return errors.New("no chat model configured")
	}

	logging.FromContext(ctx).Warn("pinger: falling back to Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned nil response")
	}
	return nil
}

// pingFunc is satisfied by the passage stores and the answer cache.
type pingFunc = interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts any value with a Ping method to [Pinger].
type DependencyPinger struct {
	dep  pingFunc
	name string
}

// NewDependencyPinger labels dep with name for readiness responses.
func NewDependencyPinger(name string, dep pingFunc) *DependencyPinger {
	return &DependencyPinger{dep: dep, name: name}
}

// Name returns the dependency label.
func (p *DependencyPinger) Name() string { return p.name }

// Ping delegates to the wrapped dependency.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}
