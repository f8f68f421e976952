package rag

import (
	"testing"
	"time"
)

func TestQueryCacheExpansionRoundTrip(t *testing.T) {
	cache := NewQueryCache(time.Minute)

	if _, ok := cache.GetExpansion("how to deploy", "gpt-4o-mini"); ok {
		t.Fatal("expected miss on empty cache")
	}

	terms := []string{"how to deploy", "deployment", "ci/cd"}
	cache.SetExpansion("how to deploy", "gpt-4o-mini", terms)

	got, ok := cache.GetExpansion("how to deploy", "gpt-4o-mini")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(got) != 3 || got[0] != "how to deploy" {
		t.Fatalf("unexpected terms: %v", got)
	}

	// 不同模型名不能命中
	if _, ok := cache.GetExpansion("how to deploy", "gpt-4o"); ok {
		t.Fatal("expected miss for different model")
	}
}

func TestQueryCacheReturnsCopy(t *testing.T) {
	cache := NewQueryCache(time.Minute)
	cache.SetExpansion("q", "m", []string{"a", "b"})

	got, _ := cache.GetExpansion("q", "m")
	got[0] = "mutated"

	again, _ := cache.GetExpansion("q", "m")
	if again[0] != "a" {
		t.Fatalf("cache entry was mutated through returned slice: %v", again)
	}
}

func TestQueryCacheTTLExpiry(t *testing.T) {
	cache := NewQueryCache(10 * time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cache.now = func() time.Time { return now }

	cache.SetExpansion("q", "m", []string{"q"})
	cache.SetEmbedding("term", "emb", []float32{0.1, 0.2})

	now = base.Add(9 * time.Minute)
	if _, ok := cache.GetExpansion("q", "m"); !ok {
		t.Fatal("entry expired before TTL")
	}
	if _, ok := cache.GetEmbedding("term", "emb"); !ok {
		t.Fatal("embedding expired before TTL")
	}

	now = base.Add(11 * time.Minute)
	if _, ok := cache.GetExpansion("q", "m"); ok {
		t.Fatal("expected expansion to expire after TTL")
	}
	if _, ok := cache.GetEmbedding("term", "emb"); ok {
		t.Fatal("expected embedding to expire after TTL")
	}

	// 过期条目保留在 map 里，Stats 能看到
	stats := cache.Stats()
	if stats.TotalEntries != 2 || stats.ExpiredEntries != 2 || stats.ValidEntries != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// 覆盖写入后重新有效
	cache.SetExpansion("q", "m", []string{"q", "fresh"})
	if got, ok := cache.GetExpansion("q", "m"); !ok || len(got) != 2 {
		t.Fatalf("expected refreshed entry, got %v ok=%v", got, ok)
	}
}

func TestQueryCacheStatsAndClear(t *testing.T) {
	cache := NewQueryCache(time.Minute)
	cache.SetExpansion("q1", "m", []string{"q1"})
	cache.SetExpansion("q2", "m", []string{"q2"})
	cache.SetEmbedding("t1", "emb", []float32{1})

	stats := cache.Stats()
	if stats.TotalEntries != 3 || stats.ValidEntries != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TTLSeconds != 60 {
		t.Fatalf("expected ttl 60s, got %d", stats.TTLSeconds)
	}

	cache.Clear()
	stats = cache.Stats()
	if stats.TotalEntries != 0 {
		t.Fatalf("expected empty cache after clear, got %+v", stats)
	}
}

func TestQueryCacheDefaultTTL(t *testing.T) {
	cache := NewQueryCache(0)
	if cache.TTL() != DefaultQueryCacheTTL {
		t.Fatalf("expected default TTL %v, got %v", DefaultQueryCacheTTL, cache.TTL())
	}
}
