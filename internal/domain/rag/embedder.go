package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	applog "queryweave/internal/platform/log"
)

// ── Embedder 接口 ──────────────────────────────────────────────

// Embedder 向量生成接口
type Embedder interface {
	// Embed 将文本列表转为向量（batch）
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dims 返回向量维度
	Dims() int
}

// ── OpenAI 兼容 Embedder 实现 ─────────────────────────────────

// OpenAIEmbedder 调用 OpenAI 兼容 /v1/embeddings API
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// OpenAIEmbedderConfig 配置
type OpenAIEmbedderConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string // e.g. text-embedding-3-small
	Dims    int    // 向量维度
}

// NewOpenAIEmbedder 创建 OpenAI 兼容 Embedder
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}

	return &OpenAIEmbedder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Dims 返回向量维度
func (e *OpenAIEmbedder) Dims() int {
	return e.dims
}

// Model 返回 embedding 模型名
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed 批量生成向量。入库场景下每批最多 64 条，避免 API 限制。
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const batchSize = 64
	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// ── 内部请求/响应结构 ──────────────────────────────────────────

type embeddingRequest struct {
	Input          interface{} `json:"input"`
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Model string          `json:"model"`
	Usage embeddingUsage  `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// embedBatch 单批次 Embedding
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: "float",
	}
	// 若使用支持 dimensions 参数的模型（如 text-embedding-3-*）
	if strings.Contains(e.model, "embedding-3") {
		reqBody.Dimensions = e.dims
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// 按 index 排序确保顺序正确
	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}

	// 验证所有向量都已填充
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text index %d", i)
		}
	}

	applog.Debug("[RAG/Embedder] Batch embedded",
		"count", len(texts),
		"dims", len(vectors[0]),
		"tokens", embResp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return vectors, nil
}

// ── 多词向量生成（检索侧）──────────────────────────────────────

// MultiEmbedder 为一组检索词生成向量，按词粒度缓存。
// 检索词在不同用户问题间高度复用（如 "authentication"、"database"），
// 词级缓存比查询级缓存能最大化命中率。
type MultiEmbedder struct {
	embedder  Embedder
	model     string // 缓存 key 的一部分
	batchSize int
	cache     *QueryCache
}

// NewMultiEmbedder 创建多词向量生成器。batchSize<=0 时默认 10。
func NewMultiEmbedder(embedder Embedder, model string, batchSize int, cache *QueryCache) *MultiEmbedder {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &MultiEmbedder{
		embedder:  embedder,
		model:     model,
		batchSize: batchSize,
		cache:     cache,
	}
}

// EmbedTerms 为检索词列表生成向量。
// 已缓存的词不发请求；未缓存的词按批（≤batchSize）调用 embeddings API。
// 单批失败只记录日志并跳过该批，其余批次继续；
// 最终结果按入参顺序组装，没拿到向量的词被静默省略（输出可能短于输入）。
func (m *MultiEmbedder) EmbedTerms(ctx context.Context, terms []string) []TermVector {
	if len(terms) == 0 {
		return nil
	}

	var uncached []string
	for _, term := range terms {
		if _, ok := m.cache.GetEmbedding(term, m.model); !ok {
			uncached = append(uncached, term)
		}
	}

	for i := 0; i < len(uncached); i += m.batchSize {
		end := i + m.batchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batch := uncached[i:end]

		vectors, err := m.embedder.Embed(ctx, batch)
		if err != nil || len(vectors) != len(batch) {
			applog.Warn("[RAG/MultiEmbedder] Batch failed, skipping",
				"batch_start", i,
				"batch_size", len(batch),
				"error", err,
			)
			continue
		}

		// 每个向量以自己的词为 key 单独缓存，
		// 不同查询共享词时也能命中
		for j, term := range batch {
			m.cache.SetEmbedding(term, m.model, vectors[j])
		}
	}

	// 按原始词序组装；以缓存为准，覆盖先前缓存与本次新增
	result := make([]TermVector, 0, len(terms))
	for _, term := range terms {
		if vec, ok := m.cache.GetEmbedding(term, m.model); ok {
			result = append(result, TermVector{Term: term, Vector: vec})
		}
	}

	if len(result) < len(terms) {
		applog.Warn("[RAG/MultiEmbedder] Some terms missing embeddings",
			"requested", len(terms),
			"embedded", len(result),
		)
	}

	return result
}
