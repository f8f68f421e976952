package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	applog "queryweave/internal/platform/log"
)

// Retriever 检索引擎：扩展 → 向量化 → 多词排序
type Retriever struct {
	store    ChunkStore
	config   *Config
	expander *QueryExpander // 可选
	embedder *MultiEmbedder // 可选
	cache    SearchCacheStore
}

// NewRetriever 创建检索引擎
func NewRetriever(store ChunkStore, config *Config) *Retriever {
	return &Retriever{
		store:  store,
		config: config,
	}
}

// SetExpander 设置查询扩展器（启用多词检索）
func (r *Retriever) SetExpander(e *QueryExpander) {
	r.expander = e
}

// SetEmbedder 设置检索词向量生成器
func (r *Retriever) SetEmbedder(m *MultiEmbedder) {
	r.embedder = m
}

// SetCache 设置检索结果缓存
func (r *Retriever) SetCache(c SearchCacheStore) {
	r.cache = c
}

// Search 执行知识检索。
// 扩展与向量化失败均就地降级（见 QueryExpander / MultiEmbedder），
// 只有候选加载失败会向调用方返回错误。
func (r *Retriever) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}

	// 填充默认值
	if req.TopK <= 0 {
		req.TopK = r.config.DefaultTopK
	}
	if req.Strategy == "" {
		req.Strategy = r.config.CombineStrategy
	}

	applog.Info("[RAG] Search",
		"query", req.Query,
		"strategy", req.Strategy,
		"top_k", req.TopK,
		"tenant_id", req.TenantID,
		"has_expander", r.expander != nil,
		"has_embedder", r.embedder != nil,
		"has_cache", r.cache != nil,
	)

	// 查询缓存
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, req); ok {
			return cached, nil
		}
	}

	start := time.Now()

	// 1. 查询扩展
	terms := []string{strings.TrimSpace(req.Query)}
	if r.expander != nil {
		expanded, err := r.expander.Expand(ctx, req.Query)
		if err != nil {
			return nil, err // 只有 ErrInvalidArgument 会走到这里
		}
		terms = expanded
	}

	// 2. 词向量
	var queryVectors []TermVector
	if r.embedder != nil {
		queryVectors = r.embedder.EmbedTerms(ctx, terms)
	}

	// 3. 加载候选分块
	candidates, err := r.store.ListCandidates(ctx, req, r.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	// 4. 多词排序；拿不到任何词向量时保持存储顺序返回
	if len(queryVectors) > 0 {
		candidates = RankChunks(candidates, queryVectors, req.Strategy)
	} else if r.embedder != nil {
		applog.Warn("[RAG] No query vectors available, returning candidates unranked",
			"query", req.Query,
		)
	}

	// 截断到 TopK
	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	result := &SearchResult{
		Chunks:    candidates,
		Terms:     terms,
		Strategy:  req.Strategy,
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	// 写入缓存（不阻塞响应）
	if r.cache != nil {
		cacheReq := cloneSearchRequest(req)
		cacheResult := cloneSearchResult(result)
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			r.cache.Set(cacheCtx, cacheReq, cacheResult)
		}()
	}

	return result, nil
}

func cloneSearchRequest(req *SearchRequest) *SearchRequest {
	if req == nil {
		return nil
	}
	cloned := *req
	if len(req.DatasetIDs) > 0 {
		cloned.DatasetIDs = append([]string(nil), req.DatasetIDs...)
	}
	return &cloned
}

func cloneSearchResult(result *SearchResult) *SearchResult {
	if result == nil {
		return nil
	}
	cloned := *result
	if len(result.Chunks) > 0 {
		cloned.Chunks = append([]Chunk(nil), result.Chunks...)
	}
	if len(result.Terms) > 0 {
		cloned.Terms = append([]string(nil), result.Terms...)
	}
	return &cloned
}

// ── Indexer 入库 Pipeline ─────────────────────────────────────

// Indexer 文档入库 Pipeline
type Indexer struct {
	store    ChunkStore
	chunker  *Chunker
	embedder Embedder         // 可选：入库时生成向量
	cache    SearchCacheStore // 可选：入库后清缓存
	parsers  *ParserRegistry
}

// NewIndexer 创建入库 Pipeline
func NewIndexer(store ChunkStore, cfg *Config) *Indexer {
	return &Indexer{
		store:   store,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}
}

// SetEmbedder 设置 Embedder（入库时自动生成向量）
func (idx *Indexer) SetEmbedder(e Embedder) {
	idx.embedder = e
}

// SetCache 设置缓存（入库后自动清除）
func (idx *Indexer) SetCache(c SearchCacheStore) {
	idx.cache = c
}

// SetParsers 设置文档解析器注册表
func (idx *Indexer) SetParsers(p *ParserRegistry) {
	idx.parsers = p
}

// Parsers 返回解析器注册表
func (idx *Indexer) Parsers() *ParserRegistry {
	return idx.parsers
}

// IndexDocument 入库单个文档
func (idx *Indexer) IndexDocument(ctx context.Context, req *IndexRequest) (*IndexResult, error) {
	start := time.Now()

	// 1. 分块
	chunks, err := idx.chunker.Chunk(req)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}

	// 2. 可选：批量 Embedding
	if idx.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		vectors, err := idx.embedder.Embed(ctx, texts)
		if err != nil {
			applog.Warn("[RAG/Indexer] Embedding failed, indexing without vectors", "error", err)
		} else if len(vectors) == len(chunks) {
			for i := range chunks {
				chunks[i].Embedding = vectors[i]
			}
			applog.Info("[RAG/Indexer] Chunks embedded", "count", len(chunks), "dims", idx.embedder.Dims())
		}
	}

	// 3. 写入分块存储
	if err := idx.store.BulkIndex(ctx, chunks); err != nil {
		return nil, fmt.Errorf("bulk index: %w", err)
	}

	docID := ""
	if len(chunks) > 0 {
		docID = chunks[0].DocID
	}

	applog.Info("[RAG] Document indexed",
		"doc_id", docID,
		"chunks", len(chunks),
		"has_vectors", idx.embedder != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	// 4. 主动清除相关缓存
	if idx.cache != nil && req.DatasetID != "" {
		idx.cache.InvalidateByDataset(ctx, req.DatasetID)
	}

	return &IndexResult{
		DocID:      docID,
		ChunkCount: len(chunks),
	}, nil
}
