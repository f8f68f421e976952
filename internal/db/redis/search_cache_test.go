package redisdb

import (
	"strings"
	"testing"

	"queryweave/internal/domain/rag"
)

func testCache(t *testing.T) *SearchCache {
	t.Helper()
	return NewSearchCache(nil, 300)
}

func TestRegistryCoversScopedResults(t *testing.T) {
	c := testCache(t)
	req := &rag.SearchRequest{
		Query:      "deployment guide",
		DatasetIDs: []string{"ds-1", "ds-2"},
	}

	sets := c.registrySetKeys(req)
	if len(sets) != 2 {
		t.Fatalf("expected one registry set per dataset, got %v", sets)
	}
	for _, id := range req.DatasetIDs {
		found := false
		for _, s := range sets {
			if s == c.datasetSetKey(id) {
				found = true
			}
		}
		if !found {
			t.Fatalf("dataset %s not registered, sets: %v", id, sets)
		}
		// 该 dataset 失效时必须覆盖其登记 SET
		covered := false
		for _, s := range c.invalidationSetKeys(id) {
			if s == c.datasetSetKey(id) {
				covered = true
			}
		}
		if !covered {
			t.Fatalf("invalidation for %s misses its registry set", id)
		}
	}
}

func TestUnscopedResultsInvalidatedByAnyDataset(t *testing.T) {
	c := testCache(t)
	req := &rag.SearchRequest{Query: "deployment guide"}

	sets := c.registrySetKeys(req)
	if len(sets) != 1 || sets[0] != c.unscopedSetKey() {
		t.Fatalf("unscoped result should register in the catch-all set, got %v", sets)
	}

	// 任意 dataset 变更都要能清掉未过滤的结果
	for _, id := range []string{"ds-1", "other"} {
		covered := false
		for _, s := range c.invalidationSetKeys(id) {
			if s == c.unscopedSetKey() {
				covered = true
			}
		}
		if !covered {
			t.Fatalf("invalidation for %s misses the catch-all set", id)
		}
	}
}

func TestCacheKeyIgnoresDatasetOrder(t *testing.T) {
	c := testCache(t)
	a := c.cacheKey(&rag.SearchRequest{Query: "q", DatasetIDs: []string{"ds-1", "ds-2"}})
	b := c.cacheKey(&rag.SearchRequest{Query: "q", DatasetIDs: []string{"ds-2", "ds-1"}})
	if a != b {
		t.Fatalf("expected identical keys for reordered datasets, got %s vs %s", a, b)
	}
}

func TestCacheKeyVariesByScope(t *testing.T) {
	c := testCache(t)
	base := &rag.SearchRequest{Query: "q", TopK: 5, OrgID: "org-1", TenantID: "t-1"}

	other := *base
	other.TenantID = "t-2"
	if c.cacheKey(base) == c.cacheKey(&other) {
		t.Fatal("expected tenant to participate in the cache key")
	}

	other = *base
	other.Query = "different"
	if c.cacheKey(base) == c.cacheKey(&other) {
		t.Fatal("expected query to participate in the cache key")
	}

	if !strings.HasPrefix(c.cacheKey(base), "qw:search:") {
		t.Fatalf("unexpected key prefix: %s", c.cacheKey(base))
	}
}
