package rag

import "context"

// ChunkStore defines chunk storage operations required by Retriever/Indexer.
type ChunkStore interface {
	// ListCandidates 返回参与排序的候选分块（含已存向量）
	ListCandidates(ctx context.Context, req *SearchRequest, limit int) ([]Chunk, error)
	BulkIndex(ctx context.Context, chunks []Chunk) error
	DeleteByDocID(ctx context.Context, docID string) error
}

// Repository defines dataset/document metadata persistence.
type Repository interface {
	CreateDataset(ctx context.Context, ds *Dataset) error
	GetDataset(ctx context.Context, id string) (*Dataset, error)
	ListDatasets(ctx context.Context, orgID, tenantID string) ([]Dataset, error)
	UpdateDataset(ctx context.Context, ds *Dataset) error
	DeleteDataset(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, datasetID string) ([]Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// SearchCacheStore defines result-cache operations required by Retriever/Indexer.
type SearchCacheStore interface {
	Get(ctx context.Context, req *SearchRequest) (*SearchResult, bool)
	Set(ctx context.Context, req *SearchRequest, result *SearchResult)
	InvalidateByDataset(ctx context.Context, datasetID string)
	InvalidateAll(ctx context.Context)
}
