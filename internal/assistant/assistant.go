// Package assistant runs the single-pass query workflow:
//
//	Start → RelevanceCheck → {Refused | Retrieve} → {NoContext | Generate} → Done
//
// Each step reads and writes one [State]. Out-of-domain questions and
// questions without supporting passages are outcomes, not errors.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/manualqa-go/internal/cache"
	"github.com/54b3r/manualqa-go/internal/generator"
	"github.com/54b3r/manualqa-go/internal/language"
	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/rag"
	"github.com/54b3r/manualqa-go/internal/relevance"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("assistant: question cannot be empty")

// RefusalMessage is the reply to out-of-domain questions.
const RefusalMessage = "I can only assist with questions related to the " + generator.DefaultAppName + ". Please ask a relevant question."

// BanglaAnswerPrefix is prepended to generated Bangla answers when enabled.
const BanglaAnswerPrefix = "উত্তর (বাংলায়):\n"

// Outcome is the terminal branch a run took.
type Outcome string

const (
	// OutcomeRefused means the question failed the relevance check.
	OutcomeRefused Outcome = "refused"
	// OutcomeNoContext means retrieval returned no passages.
	OutcomeNoContext Outcome = "no_context"
	// OutcomeGenerated means the generator produced the answer.
	OutcomeGenerated Outcome = "generated"
)

// Step names a workflow node.
type Step string

// Workflow steps.
const (
	StepStart          Step = "start"
	StepRelevanceCheck Step = "relevance_check"
	StepRefused        Step = "refused"
	StepRetrieve       Step = "retrieve"
	StepNoContext      Step = "no_context"
	StepGenerate       Step = "generate"
	StepDone           Step = "done"
)

// State is the record threaded through the workflow.
type State struct {
	Question string
	Language language.Language
	Answer   string
	// Answered is set once Answer holds a final reply.
	Answered           bool
	NeedsClarification bool
	Outcome            Outcome
}

// Generator produces an answer from retrieved passages.
type Generator interface {
	Generate(ctx context.Context, question string, lang language.Language, passages []rag.Passage) (string, error)
	ModelName() string
}

// AnswerCache stores generated answers. Failures are logged and bypassed.
type AnswerCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, answer string) error
}

// Config holds the dependencies and tuning for an Assistant.
type Config struct {
	// Filter gates out-of-domain questions. Defaults to relevance.Default().
	Filter *relevance.Filter

	// Retriever finds passages for a question. Required.
	Retriever rag.Retriever

	// Generator writes the answer. Required.
	Generator Generator

	// Cache is optional.
	Cache AnswerCache

	// AppName names the product in the refusal. Defaults to generator.DefaultAppName.
	AppName string

	// TopK is the number of passages retrieved. Defaults to 3 if zero.
	TopK int

	// RetrieveTimeout bounds the Retrieve step. Defaults to 10s if zero.
	RetrieveTimeout time.Duration

	// GenerateTimeout bounds the Generate step. Defaults to 120s if zero.
	GenerateTimeout time.Duration

	// BanglaPrefix prepends BanglaAnswerPrefix to generated Bangla answers.
	BanglaPrefix bool
}

// ApplyEnv fills the tuning fields from APP_NAME, RETRIEVAL_TOP_K,
// RETRIEVE_TIMEOUT, GENERATE_TIMEOUT and BANGLA_ANSWER_PREFIX. Unset or
// invalid values leave the field unchanged.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("APP_NAME"); v != "" {
		c.AppName = v
	}
	if v, err := strconv.Atoi(os.Getenv("RETRIEVAL_TOP_K")); err == nil && v > 0 {
		c.TopK = v
	}
	if v, err := time.ParseDuration(os.Getenv("RETRIEVE_TIMEOUT")); err == nil && v > 0 {
		c.RetrieveTimeout = v
	}
	if v, err := time.ParseDuration(os.Getenv("GENERATE_TIMEOUT")); err == nil && v > 0 {
		c.GenerateTimeout = v
	}
	if v, err := strconv.ParseBool(os.Getenv("BANGLA_ANSWER_PREFIX")); err == nil {
		c.BanglaPrefix = v
	}
}

// Assistant answers questions about the manual.
type Assistant struct {
	filter    *relevance.Filter
	retriever rag.Retriever
	gen       Generator
	cache     AnswerCache
	refusal   string
	cfg       Config
	log       *slog.Logger
}

// New constructs an Assistant from cfg.
func New(cfg *Config, log *slog.Logger) (*Assistant, error) {
	if cfg == nil || cfg.Retriever == nil {
		return nil, fmt.Errorf("assistant: Retriever must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("assistant: Generator must not be nil")
	}
	c := *cfg
	if c.Filter == nil {
		c.Filter = relevance.Default()
	}
	if c.AppName == "" {
		c.AppName = generator.DefaultAppName
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = 10 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 120 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{
		filter:    c.Filter,
		retriever: c.Retriever,
		gen:       c.Generator,
		cache:     c.Cache,
		refusal:   generator.Refusal(c.AppName),
		cfg:       c,
		log:       log,
	}, nil
}

// Ask trims question, detects its language and runs the workflow.
func (a *Assistant) Ask(ctx context.Context, question string) (*State, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	return a.Run(ctx, q, language.Detect(q))
}

// Run executes the workflow for an already validated question. The returned
// State is non-nil even on error and reflects the last completed step.
func (a *Assistant) Run(ctx context.Context, question string, lang language.Language) (*State, error) {
	log := a.logger(ctx).With(slog.String("language", lang.String()))
	st := &State{Question: question, Language: lang}
	var passages []rag.Passage

	step := StepStart
	for step != StepDone {
		next, err := a.step(ctx, step, st, &passages)
		if err != nil {
			log.Error("assistant: step failed", slog.String("step", string(step)), slog.Any("error", err))
			return st, err
		}
		log.Debug("assistant: transition", slog.String("from", string(step)), slog.String("to", string(next)))
		step = next
	}

	log.Info("assistant: question handled",
		slog.String("outcome", string(st.Outcome)),
		slog.Bool("needs_clarification", st.NeedsClarification),
		slog.Int("passages", len(passages)),
	)
	return st, nil
}

// step runs one node and returns the next.
func (a *Assistant) step(ctx context.Context, step Step, st *State, passages *[]rag.Passage) (Step, error) {
	switch step {
	case StepStart:
		return StepRelevanceCheck, nil

	case StepRelevanceCheck:
		if a.filter.IsRelevant(st.Question) {
			return StepRetrieve, nil
		}
		return StepRefused, nil

	case StepRefused:
		a.finish(st, a.refusal, true, OutcomeRefused)
		return StepDone, nil

	case StepRetrieve:
		rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrieveTimeout)
		defer cancel()
		found, err := a.retriever.Retrieve(rctx, st.Question, a.cfg.TopK)
		if err != nil {
			return "", fmt.Errorf("assistant: retrieve: %w", err)
		}
		*passages = found
		if len(found) == 0 {
			return StepNoContext, nil
		}
		return StepGenerate, nil

	case StepNoContext:
		msg := fmt.Sprintf("No relevant information found in %s. Please clarify your question.", st.Language)
		a.finish(st, msg, true, OutcomeNoContext)
		return StepDone, nil

	case StepGenerate:
		answer, err := a.generate(ctx, st, *passages)
		if err != nil {
			return "", err
		}
		if a.cfg.BanglaPrefix && st.Language == language.Bangla {
			answer = BanglaAnswerPrefix + answer
		}
		a.finish(st, answer, false, OutcomeGenerated)
		return StepDone, nil

	default:
		return "", fmt.Errorf("assistant: unknown step %q", step)
	}
}

// generate consults the cache, then the generator.
func (a *Assistant) generate(ctx context.Context, st *State, passages []rag.Passage) (string, error) {
	log := a.logger(ctx)

	var key string
	if a.cache != nil {
		ids := make([]string, 0, len(passages))
		for _, p := range passages {
			ids = append(ids, p.ID)
		}
		key = cache.Key(a.gen.ModelName(), st.Language.String(), st.Question, ids)
		answer, ok, err := a.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("cache: lookup failed, generating", slog.Any("error", err))
		case ok:
			log.Debug("cache: hit")
			return answer, nil
		}
	}

	gctx, cancel := context.WithTimeout(ctx, a.cfg.GenerateTimeout)
	defer cancel()
	answer, err := a.gen.Generate(gctx, st.Question, st.Language, passages)
	if err != nil {
		return "", fmt.Errorf("assistant: generate: %w", err)
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, answer); err != nil {
			log.Warn("cache: store failed", slog.Any("error", err))
		}
	}
	return answer, nil
}

func (a *Assistant) finish(st *State, answer string, clarify bool, outcome Outcome) {
	st.Answer = answer
	st.Answered = true
	st.NeedsClarification = clarify
	st.Outcome = outcome
}

// logger prefers a request-scoped logger from ctx.
func (a *Assistant) logger(ctx context.Context) *slog.Logger {
	if l := logging.FromContext(ctx); l != nil && l != slog.Default() {
		return l
	}
	return a.log
}
