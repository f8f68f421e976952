package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"queryweave/internal/domain/rag"
	applog "queryweave/internal/platform/log"
)

// SearchCache 检索结果 Redis 缓存。
// 每个结果 key 同时登记到所属 dataset 的 SET 里（未过滤的登记到
// catch-all SET），入库后可按 dataset 精确失效，不用全量扫描。
type SearchCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSearchCache 创建检索缓存
func NewSearchCache(rdb *redis.Client, ttlSeconds int) *SearchCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &SearchCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "qw:search:",
	}
}

// Get 从缓存获取检索结果
func (c *SearchCache) Get(ctx context.Context, req *rag.SearchRequest) (*rag.SearchResult, bool) {
	key := c.cacheKey(req)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result rag.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[RAG/Cache] Hit", "key", key)
	return &result, true
}

// Set 写入检索结果到缓存并登记归属 SET
func (c *SearchCache) Set(ctx context.Context, req *rag.SearchRequest, result *rag.SearchResult) {
	key := c.cacheKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	pipe := c.redis.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	for _, setKey := range c.registrySetKeys(req) {
		pipe.SAdd(ctx, setKey, key)
		pipe.Expire(ctx, setKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		applog.Warn("[RAG/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateByDataset 清除关联到该 dataset 的缓存结果。
// 未按 dataset 过滤的结果可能含任意 dataset 的分块，一并清除。
func (c *SearchCache) InvalidateByDataset(ctx context.Context, datasetID string) {
	setKeys := c.invalidationSetKeys(datasetID)
	var keys []string
	for _, setKey := range setKeys {
		members, err := c.redis.SMembers(ctx, setKey).Result()
		if err != nil {
			applog.Warn("[RAG/Cache] Failed to list cache keys", "set", setKey, "error", err)
			continue
		}
		keys = append(keys, members...)
	}
	keys = append(keys, setKeys...)
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		applog.Warn("[RAG/Cache] Failed to invalidate", "dataset_id", datasetID, "error", err)
		return
	}
	applog.Info("[RAG/Cache] Invalidated", "dataset_id", datasetID, "keys_deleted", len(keys)-len(setKeys))
}

// InvalidateAll 清除所有检索缓存
func (c *SearchCache) InvalidateAll(ctx context.Context) {
	pattern := c.prefix + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[RAG/Cache] All cache invalidated", "keys_deleted", len(keys))
	}
}

func (c *SearchCache) datasetSetKey(datasetID string) string {
	return c.prefix + "ds:" + datasetID
}

// unscopedSetKey 未带 dataset 过滤条件的结果的登记 SET
func (c *SearchCache) unscopedSetKey() string {
	return c.prefix + "ds:_all"
}

// registrySetKeys 返回该请求的结果 key 应登记到的 SET。
// 带过滤条件的结果登记到各 dataset 的 SET，未过滤的登记到 catch-all SET。
func (c *SearchCache) registrySetKeys(req *rag.SearchRequest) []string {
	if len(req.DatasetIDs) == 0 {
		return []string{c.unscopedSetKey()}
	}
	keys := make([]string, 0, len(req.DatasetIDs))
	for _, id := range req.DatasetIDs {
		keys = append(keys, c.datasetSetKey(id))
	}
	return keys
}

// invalidationSetKeys 某 dataset 失效时需要清除的 SET
func (c *SearchCache) invalidationSetKeys(datasetID string) []string {
	return []string{c.datasetSetKey(datasetID), c.unscopedSetKey()}
}

// cacheKey = hash(query | strategy | topk | datasetIDs | org | tenant)
func (c *SearchCache) cacheKey(req *rag.SearchRequest) string {
	ids := make([]string, len(req.DatasetIDs))
	copy(ids, req.DatasetIDs)
	sort.Strings(ids)

	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		req.Query,
		req.Strategy,
		req.TopK,
		strings.Join(ids, ","),
		req.OrgID,
		req.TenantID,
	)

	hash := sha256.Sum256([]byte(raw))
	return c.prefix + fmt.Sprintf("%x", hash[:12])
}
