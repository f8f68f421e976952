package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"queryweave/internal/domain/rag"
)

// Store PostgreSQL 存储，同时实现 rag.Repository 与 rag.ChunkStore
type Store struct {
	db *sql.DB
}

// NewStore 创建 PostgreSQL 存储
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接（健康检查用）
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema 确保检索相关表存在
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS datasets (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		org_id      UUID,
		tenant_id   UUID,
		name        VARCHAR(255) NOT NULL,
		description TEXT DEFAULT '',
		status      VARCHAR(32) NOT NULL DEFAULT 'active',
		doc_count   INTEGER DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_datasets_scope ON datasets(org_id, tenant_id);

	CREATE TABLE IF NOT EXISTS documents (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		dataset_id  UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		org_id      UUID,
		tenant_id   UUID,
		name        VARCHAR(255) NOT NULL,
		source      VARCHAR(512) DEFAULT '',
		chunk_count INTEGER DEFAULT 0,
		status      VARCHAR(32) DEFAULT 'processing',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_dataset ON documents(dataset_id);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id   VARCHAR(255) PRIMARY KEY,
		doc_id     VARCHAR(255) NOT NULL,
		dataset_id UUID NOT NULL,
		org_id     UUID,
		tenant_id  UUID,
		title      VARCHAR(512) DEFAULT '',
		content    TEXT NOT NULL,
		embedding  JSONB,
		tags       TEXT[] DEFAULT '{}',
		source     VARCHAR(512) DEFAULT '',
		page       INTEGER DEFAULT 0,
		metadata   JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_dataset ON chunks(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(org_id, tenant_id);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// --- ChunkStore ---

func (s *Store) BulkIndex(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO chunks (chunk_id, doc_id, dataset_id, org_id, tenant_id, title, content, embedding, tags, source, page, metadata, created_at) VALUES `)

	args := make([]interface{}, 0, len(chunks)*13)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 13
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12, base+13))

		var embJSON interface{}
		if len(c.Embedding) > 0 {
			embJSON, _ = json.Marshal(c.Embedding)
		}
		metaJSON, _ := json.Marshal(c.Metadata)
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args = append(args, c.ChunkID, c.DocID, c.DatasetID, nullIfEmpty(c.OrgID), nullIfEmpty(c.TenantID),
			c.Title, c.Content, embJSON, pq.Array(c.Tags), c.Source, c.Page, metaJSON, createdAt)
	}
	sb.WriteString(` ON CONFLICT (chunk_id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`)

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (s *Store) ListCandidates(ctx context.Context, req *rag.SearchRequest, limit int) ([]rag.Chunk, error) {
	if limit <= 0 {
		limit = 200
	}

	var where []string
	var args []interface{}
	argIdx := 1

	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		where = append(where, fmt.Sprintf("org_id = $%d", argIdx))
		args = append(args, scope.OrgID)
		argIdx++
		where = append(where, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, scope.TenantID)
		argIdx++
	}
	if len(req.DatasetIDs) > 0 {
		where = append(where, fmt.Sprintf("dataset_id = ANY($%d)", argIdx))
		args = append(args, pq.Array(req.DatasetIDs))
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT chunk_id, doc_id, dataset_id, COALESCE(org_id::text,''), COALESCE(tenant_id::text,''),
		        title, content, embedding, tags, source, page, metadata, created_at
		 FROM chunks %s ORDER BY created_at DESC, chunk_id LIMIT $%d`,
		whereClause, argIdx,
	)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []rag.Chunk
	for rows.Next() {
		var c rag.Chunk
		var embJSON, metaJSON []byte
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.DatasetID, &c.OrgID, &c.TenantID,
			&c.Title, &c.Content, &embJSON, pq.Array(&c.Tags), &c.Source, &c.Page, &metaJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(embJSON) > 0 {
			_ = json.Unmarshal(embJSON, &c.Embedding)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) DeleteByDocID(ctx context.Context, docID string) error {
	query := `DELETE FROM chunks WHERE doc_id = $1`
	args := []interface{}{docID}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// --- Dataset CRUD ---

func (s *Store) CreateDataset(ctx context.Context, ds *rag.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.Status == "" {
		ds.Status = "active"
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, org_id, tenant_id, name, description, status, doc_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ds.ID, nullIfEmpty(ds.OrgID), nullIfEmpty(ds.TenantID), ds.Name, ds.Description, ds.Status, ds.DocCount, ds.CreatedAt, ds.UpdatedAt)
	return err
}

func (s *Store) GetDataset(ctx context.Context, id string) (*rag.Dataset, error) {
	ds := &rag.Dataset{}
	var orgID, tenantID sql.NullString
	query := `SELECT id, COALESCE(org_id::text,''), COALESCE(tenant_id::text,''), name, description, status, doc_count, created_at, updated_at
		 FROM datasets WHERE id = $1`
	args := []interface{}{id}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&ds.ID, &orgID, &tenantID, &ds.Name, &ds.Description, &ds.Status, &ds.DocCount, &ds.CreatedAt, &ds.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	ds.OrgID = orgID.String
	ds.TenantID = tenantID.String
	return ds, err
}

func (s *Store) ListDatasets(ctx context.Context, orgID, tenantID string) ([]rag.Dataset, error) {
	query := `SELECT id, COALESCE(org_id::text,''), COALESCE(tenant_id::text,''), name, description, status, doc_count, created_at, updated_at
		 FROM datasets WHERE 1=1`
	var args []interface{}
	argIdx := 1
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += fmt.Sprintf(" AND org_id = $%d AND tenant_id = $%d", argIdx, argIdx+1)
		args = append(args, scope.OrgID, scope.TenantID)
		argIdx += 2
	} else {
		if orgID != "" {
			query += fmt.Sprintf(" AND org_id = $%d", argIdx)
			args = append(args, orgID)
			argIdx++
		}
		if tenantID != "" {
			query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
			args = append(args, tenantID)
			argIdx++
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []rag.Dataset
	for rows.Next() {
		var ds rag.Dataset
		if err := rows.Scan(&ds.ID, &ds.OrgID, &ds.TenantID, &ds.Name, &ds.Description, &ds.Status, &ds.DocCount, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

func (s *Store) UpdateDataset(ctx context.Context, ds *rag.Dataset) error {
	ds.UpdatedAt = time.Now()
	query := `UPDATE datasets SET name=$1, description=$2, status=$3, doc_count=$4, updated_at=$5 WHERE id=$6`
	args := []interface{}{ds.Name, ds.Description, ds.Status, ds.DocCount, ds.UpdatedAt, ds.ID}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $7 AND tenant_id = $8`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	query := `DELETE FROM datasets WHERE id = $1`
	args := []interface{}{id}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	// 分块表无外键，单独清理
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE dataset_id = $1`, id)
	return err
}

// --- Document CRUD ---

func (s *Store) CreateDocument(ctx context.Context, doc *rag.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = "processing"
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, dataset_id, org_id, tenant_id, name, source, chunk_count, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.DatasetID, nullIfEmpty(doc.OrgID), nullIfEmpty(doc.TenantID), doc.Name, doc.Source, doc.ChunkCount, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	doc := &rag.Document{}
	query := `SELECT id, dataset_id, COALESCE(org_id::text,''), COALESCE(tenant_id::text,''), name, source, chunk_count, status, created_at, updated_at
		 FROM documents WHERE id = $1`
	args := []interface{}{id}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&doc.ID, &doc.DatasetID, &doc.OrgID, &doc.TenantID, &doc.Name, &doc.Source, &doc.ChunkCount, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context, datasetID string) ([]rag.Document, error) {
	query := `SELECT id, dataset_id, COALESCE(org_id::text,''), COALESCE(tenant_id::text,''), name, source, chunk_count, status, created_at, updated_at
		 FROM documents WHERE dataset_id = $1`
	args := []interface{}{datasetID}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []rag.Document
	for rows.Next() {
		var doc rag.Document
		if err := rows.Scan(&doc.ID, &doc.DatasetID, &doc.OrgID, &doc.TenantID, &doc.Name, &doc.Source, &doc.ChunkCount, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) UpdateDocument(ctx context.Context, doc *rag.Document) error {
	doc.UpdatedAt = time.Now()
	query := `UPDATE documents SET name=$1, source=$2, chunk_count=$3, status=$4, updated_at=$5 WHERE id=$6`
	args := []interface{}{doc.Name, doc.Source, doc.ChunkCount, doc.Status, doc.UpdatedAt, doc.ID}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $7 AND tenant_id = $8`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	query := `DELETE FROM documents WHERE id = $1`
	args := []interface{}{id}
	if scope := rag.GetScopeFromContext(ctx); scope != nil {
		query += ` AND org_id = $2 AND tenant_id = $3`
		args = append(args, scope.OrgID, scope.TenantID)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
