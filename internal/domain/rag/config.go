package rag

// Config RAG 模块配置
type Config struct {
	// 检索配置
	DefaultTopK     int             `json:"default_top_k"`
	CandidateLimit  int             `json:"candidate_limit"` // 每次参与排序的候选分块上限
	CombineStrategy CombineStrategy `json:"combine_strategy"`

	// 查询扩展
	ExpansionProvider    string  `json:"expansion_provider,omitempty"`
	ExpansionModel       string  `json:"expansion_model,omitempty"`
	ExpansionTemperature float64 `json:"expansion_temperature"`
	ExpansionMaxTokens   int     `json:"expansion_max_tokens"`
	MaxSearchTerms       int     `json:"max_search_terms"`

	// Embedding
	EmbeddingModel     string `json:"embedding_model,omitempty"`
	EmbeddingDims      int    `json:"embedding_dims,omitempty"`
	EmbeddingBatchSize int    `json:"embedding_batch_size"` // 检索词分批大小

	// 缓存配置
	QueryCacheTTL  int `json:"query_cache_ttl"`  // 扩展/向量缓存 TTL（秒）
	ResultCacheTTL int `json:"result_cache_ttl"` // 检索结果缓存 TTL（秒），0=禁用

	// Chunker 配置
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
	MaxFileSize  int `json:"max_file_size"` // 最大上传文件（MB）
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		DefaultTopK:          5,
		CandidateLimit:       200,
		CombineStrategy:      CombineWeighted,
		ExpansionProvider:    "openai",
		ExpansionTemperature: 0.3,
		ExpansionMaxTokens:   200,
		MaxSearchTerms:       10,
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDims:        1536,
		EmbeddingBatchSize:   10,
		QueryCacheTTL:        1800, // 30 分钟
		ResultCacheTTL:       300,  // 5 分钟
		ChunkSize:            512,
		ChunkOverlap:         128,
		MaxFileSize:          50, // 50MB
	}
}

// HasExpansion 是否配置了查询扩展
func (c *Config) HasExpansion() bool {
	return c.ExpansionProvider != "" && c.ExpansionModel != ""
}

// HasEmbedding 是否配置了 Embedding
func (c *Config) HasEmbedding() bool {
	return c.EmbeddingModel != ""
}

// HasResultCache 是否启用检索结果缓存
func (c *Config) HasResultCache() bool {
	return c.ResultCacheTTL > 0
}
