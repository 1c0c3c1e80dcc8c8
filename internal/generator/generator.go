// Package generator writes grounded answers from retrieved manual passages.
// It renders an eino chat template, trims context to the token budget and
// makes a single chat model call.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/manualqa-go/internal/budget"
	"github.com/54b3r/manualqa-go/internal/language"
	"github.com/54b3r/manualqa-go/internal/rag"
)

// ErrGeneration wraps every failure to produce an answer.
var ErrGeneration = errors.New("generator: generation failed")

// DefaultAppName is the product the assistant answers questions about.
const DefaultAppName = "Banglalink Retailer App"

// preamble is the system turn. Placeholders use FString syntax, so literal
// braces must not appear in it.
const preamble = `You are a helpful assistant for the {app}. Answer the user's question only if it is directly related to the {app}'s features, functionality, or usage. Provide clear, step-by-step guidance in {language}. If the question is unrelated to the {app} (e.g., general questions like "What is AI?"), respond with: "{refusal}" If the question is unclear or no relevant context is found, ask for clarification.`

const userTurn = "Context: {context}\n\nQuestion: {question}\n\nAnswer:"

// Refusal returns the fixed out-of-domain reply for app.
func Refusal(app string) string {
	return fmt.Sprintf("I can only assist with questions related to the %s. Please ask a relevant question.", app)
}

// Config tunes a Generator.
type Config struct {
	// AppName is substituted into the prompt. Defaults to DefaultAppName.
	AppName string

	// ModelName labels the chat model in logs and traces, e.g. "ollama/llama3".
	ModelName string

	// MaxContextTokens is the estimated input budget. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Generator produces answers with a chat model.
type Generator struct {
	model model.BaseChatModel
	tmpl  *prompt.DefaultChatTemplate
	cfg   Config
	log   *slog.Logger
}

// New constructs a Generator. Callers pass a configured chat model; a nil
// model is only guarded against, and Generate then fails with ErrGeneration.
func New(m model.BaseChatModel, cfg *Config, log *slog.Logger) *Generator {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		model: m,
		tmpl: prompt.FromMessages(schema.FString,
			schema.SystemMessage(preamble),
			schema.UserMessage(userTurn),
		),
		cfg: c,
		log: log,
	}
}

// ModelName returns the configured model label.
func (g *Generator) ModelName() string {
	return g.cfg.ModelName
}

// AppName returns the product name used in prompts and refusals.
func (g *Generator) AppName() string {
	return g.cfg.AppName
}

// Generate answers question in lang using passages as the only context.
// Passages are expected most similar first. The returned text is trimmed.
func (g *Generator) Generate(ctx context.Context, question string, lang language.Language, passages []rag.Passage) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("%w: no chat model configured", ErrGeneration)
	}

	msgs, err := g.render(ctx, question, lang, passages)
	if err != nil {
		return "", err
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "manualqa.generate",
		Type:      g.cfg.ModelName,
		Component: components.ComponentOfChatModel,
	})

	resp, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: model returned no message", ErrGeneration)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}
	return answer, nil
}

// render formats the prompt, dropping trailing passages that do not fit.
func (g *Generator) render(ctx context.Context, question string, lang language.Language, passages []rag.Passage) ([]*schema.Message, error) {
	vars := map[string]any{
		"app":      g.cfg.AppName,
		"refusal":  Refusal(g.cfg.AppName),
		"language": lang.String(),
		"question": question,
		"context":  "",
	}
	fixed, err := g.tmpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering prompt: %w", ErrGeneration, err)
	}

	contents := make([]string, 0, len(passages))
	for _, p := range passages {
		contents = append(contents, p.Content)
	}
	kept := budget.FitPassages(fixed, contents, g.cfg.MaxContextTokens)
	if dropped := len(contents) - len(kept); dropped > 0 {
		g.log.Warn("budget: dropped passages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", g.cfg.MaxContextTokens),
		)
	}
	if len(kept) == 0 {
		return fixed, nil
	}

	vars["context"] = strings.Join(kept, "\n")
	msgs, err := g.tmpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering prompt: %w", ErrGeneration, err)
	}
	return msgs, nil
}
