package rag

import (
	"sync"
	"time"
)

// DefaultQueryCacheTTL 扩展结果与词向量共用的缓存 TTL
const DefaultQueryCacheTTL = 30 * time.Minute

// QueryCache 查询扩展与词向量的进程内缓存。
// 两个命名空间使用独立 map，避免靠 key 前缀区分；共用同一 TTL。
// 过期采用惰性判断：Get 视过期条目为不存在，但条目本身保留到被覆盖或 Clear。
type QueryCache struct {
	mu         sync.RWMutex
	ttl        time.Duration
	now        func() time.Time
	expansions map[string]expansionEntry
	embeddings map[string]embeddingEntry
}

type expansionEntry struct {
	terms     []string
	timestamp time.Time
}

type embeddingEntry struct {
	vector    []float32
	timestamp time.Time
}

// CacheStats 缓存诊断统计（O(n) 全量扫描，不在热路径使用）
type CacheStats struct {
	TotalEntries   int           `json:"total_entries"`
	ValidEntries   int           `json:"valid_entries"`
	ExpiredEntries int           `json:"expired_entries"`
	TTL            time.Duration `json:"-"`
	TTLSeconds     int           `json:"cache_ttl_seconds"`
}

// NewQueryCache 创建查询缓存。ttl<=0 时使用默认 30 分钟。
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &QueryCache{
		ttl:        ttl,
		now:        time.Now,
		expansions: make(map[string]expansionEntry),
		embeddings: make(map[string]embeddingEntry),
	}
}

// GetExpansion 查询扩展缓存，key = (query, model)
func (c *QueryCache) GetExpansion(query, model string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.expansions[cacheKey(query, model)]
	if !ok || c.expired(entry.timestamp) {
		return nil, false
	}

	// 返回副本，防止调用方修改缓存内容
	terms := make([]string, len(entry.terms))
	copy(terms, entry.terms)
	return terms, true
}

// SetExpansion 写入扩展缓存
func (c *QueryCache) SetExpansion(query, model string, terms []string) {
	stored := make([]string, len(terms))
	copy(stored, terms)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.expansions[cacheKey(query, model)] = expansionEntry{
		terms:     stored,
		timestamp: c.now(),
	}
}

// GetEmbedding 查询词向量缓存，key = (term, embeddingModel)
func (c *QueryCache) GetEmbedding(term, model string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.embeddings[cacheKey(term, model)]
	if !ok || c.expired(entry.timestamp) {
		return nil, false
	}
	return entry.vector, true
}

// SetEmbedding 写入词向量缓存
func (c *QueryCache) SetEmbedding(term, model string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddings[cacheKey(term, model)] = embeddingEntry{
		vector:    vector,
		timestamp: c.now(),
	}
}

// Clear 清空两个命名空间的所有条目
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expansions = make(map[string]expansionEntry)
	c.embeddings = make(map[string]embeddingEntry)
}

// Stats 扫描全部条目统计有效/过期数量
func (c *QueryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		TTL:        c.ttl,
		TTLSeconds: int(c.ttl / time.Second),
	}

	for _, entry := range c.expansions {
		stats.TotalEntries++
		if c.expired(entry.timestamp) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}
	for _, entry := range c.embeddings {
		stats.TotalEntries++
		if c.expired(entry.timestamp) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}

	return stats
}

// TTL 返回缓存 TTL
func (c *QueryCache) TTL() time.Duration {
	return c.ttl
}

func (c *QueryCache) expired(ts time.Time) bool {
	return c.now().Sub(ts) > c.ttl
}

func cacheKey(a, b string) string {
	// \x00 不会出现在查询或模型名中，避免 key 拼接歧义
	return a + "\x00" + b
}
