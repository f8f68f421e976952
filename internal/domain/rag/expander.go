package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	applog "queryweave/internal/platform/log"
	"queryweave/internal/provider"
)

// ErrInvalidArgument 前置条件不满足（空查询 / 未配置扩展模型）。
// 是本模块唯一向调用方抛出的硬错误，上游失败一律就地降级。
var ErrInvalidArgument = errors.New("invalid argument")

// expansionSystemPrompt 固定的扩展指令。要求模型输出 "- " 前缀的词条列表。
const expansionSystemPrompt = `You are a search query expansion assistant. Given a user's question, generate up to 10 search terms that would help retrieve relevant documents.

Cover:
- Key concepts from the question
- Technical terms and domain terminology
- Synonyms and alternative phrasings
- Broader and narrower related terms

Each term should be 1-4 words. Output ONLY a bullet list, one term per line, each line starting with "- ". No explanations.`

// QueryExpander 查询扩展器：用 LLM 将一个问题扩展为多个检索词。
// 扩展结果按 (query, model) 强缓存——TTL 窗口内同一查询必得同一扩展，
// 以延迟和成本换取 LLM 非确定性带来的抖动。
type QueryExpander struct {
	providerName string
	model        string
	temperature  float64
	maxTokens    int
	maxTerms     int
	cache        *QueryCache
}

// NewQueryExpander 创建查询扩展器
func NewQueryExpander(cfg *Config, cache *QueryCache) *QueryExpander {
	maxTerms := cfg.MaxSearchTerms
	if maxTerms <= 0 {
		maxTerms = 10
	}
	maxTokens := cfg.ExpansionMaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &QueryExpander{
		providerName: cfg.ExpansionProvider,
		model:        cfg.ExpansionModel,
		temperature:  cfg.ExpansionTemperature,
		maxTokens:    maxTokens,
		maxTerms:     maxTerms,
		cache:        cache,
	}
}

// Model 返回使用的扩展模型名
func (e *QueryExpander) Model() string {
	return e.model
}

// Expand 将用户问题扩展为检索词列表。
// 保证返回值非空且包含原始查询（大小写不敏感判重，缺失时前置）。
// 除 ErrInvalidArgument 外不返回错误：任何上游失败降级为 [query]。
func (e *QueryExpander) Expand(ctx context.Context, userQuery string) ([]string, error) {
	query := strings.TrimSpace(userQuery)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidArgument)
	}
	if e.providerName == "" || e.model == "" {
		return nil, fmt.Errorf("%w: expansion provider/model not configured", ErrInvalidArgument)
	}

	if cached, ok := e.cache.GetExpansion(query, e.model); ok {
		applog.Debug("[RAG/Expander] Cache hit", "query", query, "terms", len(cached))
		return cached, nil
	}

	start := time.Now()

	terms, err := e.expandViaLLM(ctx, query)
	if err != nil {
		// 扩展只是检索增强，失败时降级为原始查询，绝不阻断检索主流程
		applog.Warn("[RAG/Expander] Expansion failed, falling back to original query",
			"query", query,
			"error", err,
		)
		return []string{query}, nil
	}

	terms = ensureOriginalQuery(query, terms, e.maxTerms)
	e.cache.SetExpansion(query, e.model, terms)

	applog.Info("[RAG/Expander] Query expanded",
		"query", query,
		"terms", len(terms),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return terms, nil
}

// expandViaLLM 发起一次扩展补全并解析词条列表
func (e *QueryExpander) expandViaLLM(ctx context.Context, query string) ([]string, error) {
	p, err := provider.GetProvider(e.providerName)
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", e.providerName, err)
	}

	resp, err := p.Complete(ctx, &provider.CompletionRequest{
		Model: e.model,
		Messages: []provider.Message{
			{Role: "system", Content: expansionSystemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("expansion completion: %w", err)
	}

	return parseSearchTerms(resp.Content, e.maxTerms), nil
}

// parseSearchTerms 从补全输出提取词条：只保留 "-" 开头的行，
// 去掉列表标记并 trim，丢弃空行，截断到 max。
func parseSearchTerms(content string, max int) []string {
	var terms []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		term := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if term == "" {
			continue
		}
		terms = append(terms, term)
		if len(terms) >= max {
			break
		}
	}
	return terms
}

// ensureOriginalQuery 确保原始查询出现在词条列表中（大小写不敏感）。
// 缺失时前置为第一项，使字面查询始终参与检索。
func ensureOriginalQuery(query string, terms []string, max int) []string {
	for _, t := range terms {
		if strings.EqualFold(t, query) {
			return terms
		}
	}

	result := make([]string, 0, len(terms)+1)
	result = append(result, query)
	result = append(result, terms...)
	if len(result) > max {
		result = result[:max]
	}
	return result
}
