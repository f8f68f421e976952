package rag

import "time"

// Chunk 文档分块（入库与检索排序的基本单元）
type Chunk struct {
	ChunkID   string            `json:"chunk_id"`
	DocID     string            `json:"doc_id"`
	DatasetID string            `json:"dataset_id"`
	OrgID     string            `json:"org_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Source    string            `json:"source,omitempty"`
	Page      int               `json:"page,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`

	// 排序阶段填充。Similarity 被 MultiQueryScore 覆盖，
	// 覆盖前的值保留在 OriginalSimilarity 中。
	Similarity         float64     `json:"similarity"`
	OriginalSimilarity float64     `json:"original_similarity,omitempty"`
	MultiQueryScore    float64     `json:"multi_query_score,omitempty"`
	QueryScores        []TermScore `json:"query_scores,omitempty"`
}

// TermVector 检索词与其向量
type TermVector struct {
	Term   string    `json:"term"`
	Vector []float32 `json:"vector"`
}

// TermScore 单个检索词对某分块的相似度
type TermScore struct {
	Term       string  `json:"term"`
	Similarity float64 `json:"similarity"`
}

// CombineStrategy 多词评分合并策略
type CombineStrategy string

const (
	// CombineMax 取各词最高分，偏向命中任一扩展词的分块
	CombineMax CombineStrategy = "max"
	// CombineAverage 取各词均分，偏向对所有词普遍相关的分块
	CombineAverage CombineStrategy = "average"
	// CombineWeighted 原始查询占 0.3，扩展词均分剩余 0.7
	CombineWeighted CombineStrategy = "weighted"
)

// SearchRequest 检索请求
type SearchRequest struct {
	Query      string          `json:"query"`
	Strategy   CombineStrategy `json:"strategy,omitempty"`
	TopK       int             `json:"top_k,omitempty"`
	DatasetIDs []string        `json:"dataset_ids,omitempty"`
	// 多租户（从 Scope 自动注入）
	OrgID    string `json:"-"`
	TenantID string `json:"-"`
}

// SearchResult 检索结果
type SearchResult struct {
	Chunks    []Chunk         `json:"chunks"`
	Terms     []string        `json:"terms"`
	Strategy  CombineStrategy `json:"strategy"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// QAPair 问答对
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// IndexRequest 文档入库请求
type IndexRequest struct {
	DatasetID string   `json:"dataset_id"`
	OrgID     string   `json:"org_id"`
	TenantID  string   `json:"tenant_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Source    string   `json:"source,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	QAPairs   []QAPair `json:"qa_pairs,omitempty"` // QA 对（每对独立成 chunk）
}

// IndexResult 入库结果
type IndexResult struct {
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Dataset 知识库
type Dataset struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	DocCount    int       `json:"doc_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document 文档元数据
type Document struct {
	ID         string    `json:"id"`
	DatasetID  string    `json:"dataset_id"`
	OrgID      string    `json:"org_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Name       string    `json:"name"`
	Source     string    `json:"source,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
