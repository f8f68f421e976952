package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeEmbedder 记录每次 Embed 调用的批次
type fakeEmbedder struct {
	batches [][]string
	failOn  map[string]bool // 批内含任一标记词则整批失败
	dims    int
}

func (f *fakeEmbedder) Dims() int { return f.dims }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	batch := make([]string, len(texts))
	copy(batch, texts)
	f.batches = append(f.batches, batch)

	for _, text := range texts {
		if f.failOn[text] {
			return nil, errors.New("simulated batch failure")
		}
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

func TestEmbedTermsEmptyInput(t *testing.T) {
	fake := &fakeEmbedder{dims: 2}
	m := NewMultiEmbedder(fake, "emb-model", 10, NewQueryCache(time.Minute))

	if got := m.EmbedTerms(context.Background(), nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("empty input must not call the embedder, got %d calls", len(fake.batches))
	}
}

func TestEmbedTermsBatchesSequentially(t *testing.T) {
	fake := &fakeEmbedder{dims: 2}
	m := NewMultiEmbedder(fake, "emb-model", 10, NewQueryCache(time.Minute))

	terms := make([]string, 23)
	for i := range terms {
		terms[i] = "term-" + string(rune('a'+i))
	}

	result := m.EmbedTerms(context.Background(), terms)

	if len(fake.batches) != 3 {
		t.Fatalf("expected 3 batches for 23 terms, got %d", len(fake.batches))
	}
	if len(fake.batches[0]) != 10 || len(fake.batches[1]) != 10 || len(fake.batches[2]) != 3 {
		t.Fatalf("unexpected batch sizes: %d/%d/%d", len(fake.batches[0]), len(fake.batches[1]), len(fake.batches[2]))
	}
	if len(result) != 23 {
		t.Fatalf("expected vector per term, got %d", len(result))
	}
	// 输出保持入参顺序
	for i, tv := range result {
		if tv.Term != terms[i] {
			t.Fatalf("order broken at %d: got %q, want %q", i, tv.Term, terms[i])
		}
	}
}

func TestEmbedTermsUsesCacheAcrossCalls(t *testing.T) {
	fake := &fakeEmbedder{dims: 2}
	m := NewMultiEmbedder(fake, "emb-model", 10, NewQueryCache(time.Minute))

	m.EmbedTerms(context.Background(), []string{"alpha", "beta"})
	if len(fake.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(fake.batches))
	}

	result := m.EmbedTerms(context.Background(), []string{"beta", "gamma"})
	if len(fake.batches) != 2 {
		t.Fatalf("expected exactly one more batch, got %d total", len(fake.batches))
	}
	// 第二次只应请求未缓存的 gamma
	second := fake.batches[1]
	if len(second) != 1 || second[0] != "gamma" {
		t.Fatalf("expected only uncached term in second batch, got %v", second)
	}
	if len(result) != 2 || result[0].Term != "beta" || result[1].Term != "gamma" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestEmbedTermsSkipsFailedBatch(t *testing.T) {
	fake := &fakeEmbedder{dims: 2, failOn: map[string]bool{"poison": true}}
	m := NewMultiEmbedder(fake, "emb-model", 2, NewQueryCache(time.Minute))

	// batch1 = [ok1, poison]（失败）, batch2 = [ok2]（成功）
	result := m.EmbedTerms(context.Background(), []string{"ok1", "poison", "ok2"})

	if len(fake.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(fake.batches))
	}
	if len(result) != 1 || result[0].Term != "ok2" {
		t.Fatalf("expected only surviving batch terms, got %v", result)
	}
}

func TestOpenAIEmbedderAssemblesByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		// 故意乱序返回，客户端应按 index 还原
		resp := map[string]interface{}{
			"model": req.Model,
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{2, 2}},
				{"index": 0, "embedding": []float32{1, 1}},
			},
			"usage": map[string]int{"prompt_tokens": 4, "total_tokens": 4},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
		Dims:    2,
	})

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Fatalf("vectors not reordered by index: %v", vectors)
	}
}

func TestOpenAIEmbedderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, Model: "text-embedding-3-small", Dims: 2})

	if _, err := e.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
