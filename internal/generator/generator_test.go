package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/manualqa-go/internal/language"
	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/rag"
)

// fakeChatModel records the prompt and returns a canned reply.
type fakeChatModel struct {
	reply *schema.Message
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func passages(contents ...string) []rag.Passage {
	out := make([]rag.Passage, len(contents))
	for i, c := range contents {
		out[i] = rag.Passage{Ordinal: i, Content: c}
	}
	return out
}

func TestGenerate_RendersPrompt(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: schema.AssistantMessage("  1. Open Settings.\n2. Tap Edit.  \n", nil)}
	g := New(m, &Config{ModelName: "fake/model"}, logging.Discard())

	answer, err := g.Generate(context.Background(), "How do I edit my profile?", language.Bangla,
		passages("Open Settings.", "Tap Edit Profile."))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "1. Open Settings.\n2. Tap Edit." {
		t.Errorf("answer not trimmed: %q", answer)
	}

	if len(m.got) != 2 {
		t.Fatalf("want system + user messages, got %d", len(m.got))
	}
	sys, user := m.got[0], m.got[1]
	if sys.Role != schema.System || user.Role != schema.User {
		t.Errorf("unexpected roles: %s, %s", sys.Role, user.Role)
	}
	for _, want := range []string{
		"assistant for the Banglalink Retailer App",
		"step-by-step guidance in Bangla",
		Refusal(DefaultAppName),
		"ask for clarification",
	} {
		if !strings.Contains(sys.Content, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys.Content)
		}
	}
	wantUser := "Context: Open Settings.\nTap Edit Profile.\n\nQuestion: How do I edit my profile?\n\nAnswer:"
	if user.Content != wantUser {
		t.Errorf("user turn:\n got %q\nwant %q", user.Content, wantUser)
	}
}

func TestGenerate_QuestionWithBracesIsNotInterpreted(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	g := New(m, nil, logging.Discard())

	if _, err := g.Generate(context.Background(), "what is {language}?", language.English, passages("x")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(m.got[1].Content, "Question: what is {language}?") {
		t.Errorf("question was altered: %q", m.got[1].Content)
	}
}

func TestGenerate_CustomAppName(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	g := New(m, &Config{AppName: "Retailer Portal"}, logging.Discard())
	if _, err := g.Generate(context.Background(), "q", language.English, passages("p")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.got[0].Content, Refusal("Retailer Portal")) {
		t.Errorf("refusal not customised: %s", m.got[0].Content)
	}
	if g.AppName() != "Retailer Portal" {
		t.Errorf("AppName() = %q", g.AppName())
	}
}

func TestGenerate_TrimsLeastSimilarPassages(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: schema.AssistantMessage("ok", nil)}
	g := New(m, &Config{MaxContextTokens: 400}, logging.Discard())

	best := "BEST " + strings.Repeat("a", 200)
	worst := "WORST " + strings.Repeat("b", 2000)
	if _, err := g.Generate(context.Background(), "q", language.English, passages(best, worst)); err != nil {
		t.Fatal(err)
	}
	user := m.got[1].Content
	if !strings.Contains(user, "BEST") || strings.Contains(user, "WORST") {
		t.Errorf("expected only the best passage to survive, got %q", user[:min(80, len(user))])
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	cases := []struct {
		name  string
		model model.BaseChatModel
	}{
		{"nil model", nil},
		{"backend error", &fakeChatModel{err: cause}},
		{"nil message", &fakeChatModel{}},
		{"empty completion", &fakeChatModel{reply: schema.AssistantMessage(" \n ", nil)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := New(tc.model, nil, logging.Discard())
			_, err := g.Generate(context.Background(), "q", language.English, passages("p"))
			if !errors.Is(err, ErrGeneration) {
				t.Errorf("expected ErrGeneration, got %v", err)
			}
		})
	}

	g := New(&fakeChatModel{err: cause}, nil, logging.Discard())
	if _, err := g.Generate(context.Background(), "q", language.English, nil); !errors.Is(err, cause) {
		t.Errorf("backend cause should be wrapped, got %v", err)
	}
}
