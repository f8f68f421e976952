package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"queryweave/internal/domain/rag"
	applog "queryweave/internal/platform/log"
)

// RAGHandler 检索与知识库管理 API
type RAGHandler struct {
	repo        rag.Repository
	store       rag.ChunkStore
	retriever   *rag.Retriever
	indexer     *rag.Indexer
	expander    *rag.QueryExpander
	queryCache  *rag.QueryCache
	resultCache rag.SearchCacheStore
	maxFileMB   int
}

// NewRAGHandler 创建处理器
func NewRAGHandler(repo rag.Repository, store rag.ChunkStore, retriever *rag.Retriever, indexer *rag.Indexer, maxFileMB int) *RAGHandler {
	if maxFileMB <= 0 {
		maxFileMB = 50
	}
	return &RAGHandler{
		repo:      repo,
		store:     store,
		retriever: retriever,
		indexer:   indexer,
		maxFileMB: maxFileMB,
	}
}

// SetExpansion 设置扩展器与查询缓存
func (h *RAGHandler) SetExpansion(expander *rag.QueryExpander, cache *rag.QueryCache) {
	h.expander = expander
	h.queryCache = cache
}

// SetResultCache 设置检索结果缓存
func (h *RAGHandler) SetResultCache(cache rag.SearchCacheStore) {
	h.resultCache = cache
}

// RegisterRoutes 注册路由
func (h *RAGHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rag", func(r chi.Router) {
		// 知识检索
		r.Post("/search", h.Search)
		r.Post("/expand", h.Expand)

		// 查询缓存
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.CacheStats)
			r.Delete("/", h.ClearCache)
		})

		// 知识库管理
		r.Route("/datasets", func(r chi.Router) {
			r.Post("/", h.CreateDataset)
			r.Get("/", h.ListDatasets)
			r.Get("/{id}", h.GetDataset)
			r.Put("/{id}", h.UpdateDataset)
			r.Delete("/{id}", h.DeleteDataset)

			// 文档管理
			r.Route("/{datasetID}/documents", func(r chi.Router) {
				r.Post("/", h.IndexDocument)
				r.Post("/upload", h.UploadDocument)
				r.Post("/qa", h.IndexQAPairs)
				r.Get("/", h.ListDocuments)
				r.Get("/{docID}", h.GetDocument)
				r.Delete("/{docID}", h.DeleteDocument)
			})
		})
	})
}

// --- 知识检索 ---

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.retriever == nil {
		writeError(w, http.StatusServiceUnavailable, "retriever not configured")
		return
	}

	var req rag.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	// 从 Scope 注入多租户
	if scope, err := ScopeFrom(r.Context()); err == nil {
		req.OrgID = scope.OrgID
		req.TenantID = scope.TenantID
	}

	result, err := h.retriever.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		applog.Error("[RAG] Search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type expandRequest struct {
	Query string `json:"query"`
}

type expandResponse struct {
	Query string   `json:"query"`
	Terms []string `json:"terms"`
	Model string   `json:"model"`
}

// Expand 单独暴露查询扩展（调试/前端预览用）
func (h *RAGHandler) Expand(w http.ResponseWriter, r *http.Request) {
	if h.expander == nil {
		writeError(w, http.StatusServiceUnavailable, "query expansion not configured")
		return
	}

	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	terms, err := h.expander.Expand(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		applog.Error("[RAG] Expand failed", "error", err)
		writeError(w, http.StatusInternalServerError, "expansion failed")
		return
	}

	writeJSON(w, http.StatusOK, &expandResponse{
		Query: req.Query,
		Terms: terms,
		Model: h.expander.Model(),
	})
}

// --- 查询缓存 ---

func (h *RAGHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.queryCache == nil {
		writeError(w, http.StatusServiceUnavailable, "query cache not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.queryCache.Stats())
}

func (h *RAGHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.queryCache != nil {
		h.queryCache.Clear()
	}
	if h.resultCache != nil {
		h.resultCache.InvalidateAll(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// --- 知识库 CRUD ---

func (h *RAGHandler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var ds rag.Dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ds.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if scope, err := ScopeFrom(r.Context()); err == nil {
		ds.OrgID = scope.OrgID
		ds.TenantID = scope.TenantID
	}

	if err := h.repo.CreateDataset(r.Context(), &ds); err != nil {
		applog.Error("[RAG] CreateDataset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create dataset")
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (h *RAGHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, err := h.repo.GetDataset(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get dataset")
		return
	}
	if ds == nil {
		writeError(w, http.StatusNotFound, "dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *RAGHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	orgID, tenantID := "", ""
	if scope, err := ScopeFrom(r.Context()); err == nil {
		orgID = scope.OrgID
		tenantID = scope.TenantID
	}

	datasets, err := h.repo.ListDatasets(r.Context(), orgID, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

func (h *RAGHandler) UpdateDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ds rag.Dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ds.ID = id
	if err := h.repo.UpdateDataset(r.Context(), &ds); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update dataset")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *RAGHandler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteDataset(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete dataset")
		return
	}
	if h.resultCache != nil {
		h.resultCache.InvalidateByDataset(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- 文档管理 ---

type indexDocumentRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (h *RAGHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}

	datasetID := chi.URLParam(r, "datasetID")

	var req indexDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Title == "" {
		req.Title = "Untitled"
	}

	h.indexAndRespond(w, r, &rag.IndexRequest{
		DatasetID: datasetID,
		Title:     req.Title,
		Content:   req.Content,
		Source:    req.Source,
		Tags:      req.Tags,
	})
}

func (h *RAGHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	docs, err := h.repo.ListDocuments(r.Context(), datasetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *RAGHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	doc, err := h.repo.GetDocument(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *RAGHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	datasetID := chi.URLParam(r, "datasetID")

	if h.store != nil {
		if err := h.store.DeleteByDocID(r.Context(), docID); err != nil {
			applog.Warn("[RAG] Failed to delete document chunks", "doc_id", docID, "error", err)
		}
	}
	if err := h.repo.DeleteDocument(r.Context(), docID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	if h.resultCache != nil && datasetID != "" {
		h.resultCache.InvalidateByDataset(r.Context(), datasetID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- 文件上传 ---

// UploadDocument 文件上传入库（multipart/form-data）
func (h *RAGHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}

	datasetID := chi.URLParam(r, "datasetID")
	limitBytes := int64(h.maxFileMB) << 20

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > 0 && header.Size > limitBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%dMB)", h.maxFileMB))
		return
	}

	filename := header.Filename
	title := r.FormValue("title")
	if title == "" {
		title = filename
	}
	source := r.FormValue("source")
	if source == "" {
		source = filename
	}

	parsers := h.indexer.Parsers()
	if parsers == nil {
		// 无解析器，按纯文本处理
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		h.indexAndRespond(w, r, &rag.IndexRequest{
			DatasetID: datasetID,
			Title:     title,
			Content:   string(data),
			Source:    source,
		})
		return
	}

	parser, err := parsers.Get(filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s (supported: %s)", filepath.Ext(filename), parsers.SupportedTypes()))
		return
	}

	parsed, err := parser.Parse(file, filename)
	if err != nil {
		applog.Error("[RAG] File parse failed", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to parse file")
		return
	}
	if parsed.Content == "" {
		writeError(w, http.StatusBadRequest, "no text content extracted from file")
		return
	}
	if parsed.Title != "" && r.FormValue("title") == "" {
		title = parsed.Title
	}

	h.indexAndRespond(w, r, &rag.IndexRequest{
		DatasetID: datasetID,
		Title:     title,
		Content:   parsed.Content,
		Source:    source,
	})
}

// IndexQAPairs QA 对批量入库
func (h *RAGHandler) IndexQAPairs(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}

	datasetID := chi.URLParam(r, "datasetID")

	var req struct {
		Title   string       `json:"title"`
		QAPairs []rag.QAPair `json:"qa_pairs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.QAPairs) == 0 {
		writeError(w, http.StatusBadRequest, "qa_pairs is required")
		return
	}
	if req.Title == "" {
		req.Title = "QA Pairs"
	}

	h.indexAndRespond(w, r, &rag.IndexRequest{
		DatasetID: datasetID,
		Title:     req.Title,
		QAPairs:   req.QAPairs,
		Source:    "qa_import",
	})
}

// indexAndRespond 通用入库 + 元数据落库 + 响应
func (h *RAGHandler) indexAndRespond(w http.ResponseWriter, r *http.Request, indexReq *rag.IndexRequest) {
	if scope, err := ScopeFrom(r.Context()); err == nil {
		indexReq.OrgID = scope.OrgID
		indexReq.TenantID = scope.TenantID
	}

	start := time.Now()

	result, err := h.indexer.IndexDocument(r.Context(), indexReq)
	if err != nil {
		applog.Error("[RAG] IndexDocument failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to index document")
		return
	}

	// 文档元数据
	doc := &rag.Document{
		ID:         result.DocID,
		DatasetID:  indexReq.DatasetID,
		OrgID:      indexReq.OrgID,
		TenantID:   indexReq.TenantID,
		Name:       indexReq.Title,
		Source:     indexReq.Source,
		ChunkCount: result.ChunkCount,
		Status:     "completed",
	}
	if err := h.repo.CreateDocument(r.Context(), doc); err != nil {
		applog.Warn("[RAG] Failed to save document metadata", "error", err)
	}

	ds, _ := h.repo.GetDataset(r.Context(), indexReq.DatasetID)
	if ds != nil {
		ds.DocCount++
		_ = h.repo.UpdateDataset(r.Context(), ds)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"doc_id":      result.DocID,
		"chunk_count": result.ChunkCount,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
}
