package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"queryweave/internal/provider"
)

// mockLLM 可编程的 LLM provider，记录调用次数
type mockLLM struct {
	name    string
	content string
	err     error
	calls   int
}

func (m *mockLLM) Name() string { return m.name }

func (m *mockLLM) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &provider.CompletionResponse{Content: m.content, Model: req.Model}, nil
}

func newTestExpander(t *testing.T, mock *mockLLM) *QueryExpander {
	t.Helper()
	provider.RegisterProvider(mock)

	cfg := DefaultConfig()
	cfg.ExpansionProvider = mock.name
	cfg.ExpansionModel = "test-model"
	return NewQueryExpander(cfg, NewQueryCache(time.Minute))
}

func TestExpandParsesBulletList(t *testing.T) {
	mock := &mockLLM{
		name: "mock-expand-parse",
		content: `- kubernetes deployment
- rolling update
- helm chart

Some trailing explanation the model should not have added.`,
	}
	e := newTestExpander(t, mock)

	terms, err := e.Expand(context.Background(), "how do I deploy to kubernetes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 原始查询不在输出中，应被前置
	if terms[0] != "how do I deploy to kubernetes" {
		t.Fatalf("expected original query first, got %v", terms)
	}
	if len(terms) != 4 {
		t.Fatalf("expected 4 terms, got %v", terms)
	}
	for _, term := range terms[1:] {
		if strings.HasPrefix(term, "-") {
			t.Fatalf("bullet marker not stripped: %q", term)
		}
	}
}

func TestExpandKeepsOriginalQueryCaseInsensitive(t *testing.T) {
	mock := &mockLLM{
		name:    "mock-expand-case",
		content: "- How To Deploy\n- containers",
	}
	e := newTestExpander(t, mock)

	terms, err := e.Expand(context.Background(), "how to deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 大小写不同视为已包含，不重复前置
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms (no duplicate prepend), got %v", terms)
	}
	if terms[0] != "How To Deploy" {
		t.Fatalf("expected LLM order preserved, got %v", terms)
	}
}

func TestExpandNeverExceedsMaxTerms(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 15; i++ {
		sb.WriteString("- term number ")
		sb.WriteString(strings.Repeat("x", i+1))
		sb.WriteString("\n")
	}
	mock := &mockLLM{name: "mock-expand-max", content: sb.String()}
	e := newTestExpander(t, mock)

	terms, err := e.Expand(context.Background(), "some query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) > 10 {
		t.Fatalf("expected at most 10 terms, got %d", len(terms))
	}
	if terms[0] != "some query" {
		t.Fatalf("original query must survive truncation, got %v", terms)
	}
}

func TestExpandFallsBackOnProviderError(t *testing.T) {
	mock := &mockLLM{name: "mock-expand-err", err: errors.New("upstream 500")}
	e := newTestExpander(t, mock)

	terms, err := e.Expand(context.Background(), "resilient query")
	if err != nil {
		t.Fatalf("provider errors must degrade, not propagate: %v", err)
	}
	if len(terms) != 1 || terms[0] != "resilient query" {
		t.Fatalf("expected fallback to [query], got %v", terms)
	}
}

func TestExpandFallsBackOnEmptyOutput(t *testing.T) {
	mock := &mockLLM{name: "mock-expand-empty", content: "I cannot generate terms for that."}
	e := newTestExpander(t, mock)

	terms, err := e.Expand(context.Background(), "odd query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(terms) != 1 || terms[0] != "odd query" {
		t.Fatalf("expected [query] when no bullets parsed, got %v", terms)
	}
}

func TestExpandUsesCacheOnRepeat(t *testing.T) {
	mock := &mockLLM{name: "mock-expand-cache", content: "- caching\n- memoization"}
	e := newTestExpander(t, mock)

	first, err := e.Expand(context.Background(), "what is caching")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Expand(context.Background(), "what is caching")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.calls != 1 {
		t.Fatalf("expected 1 LLM call, got %d", mock.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cache returned different expansion: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cache returned different expansion: %v vs %v", first, second)
		}
	}
}

func TestExpandRejectsBlankQuery(t *testing.T) {
	mock := &mockLLM{name: "mock-expand-blank", content: "- anything"}
	e := newTestExpander(t, mock)

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := e.Expand(context.Background(), q); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %q, got %v", q, err)
		}
	}
	if mock.calls != 0 {
		t.Fatalf("blank query must not reach the LLM, got %d calls", mock.calls)
	}
}

func TestExpandRequiresConfiguredModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpansionProvider = ""
	cfg.ExpansionModel = ""
	e := NewQueryExpander(cfg, NewQueryCache(time.Minute))

	if _, err := e.Expand(context.Background(), "query"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument without provider/model, got %v", err)
	}
}
