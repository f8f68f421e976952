package rag

import "context"

// ScopeInfo 请求的多租户作用域。鉴权层写入，存储层据此给
// 候选加载和元数据查询追加 org/tenant 过滤条件。
// 域内自带一份是为了不反向依赖 api 包。
type ScopeInfo struct {
	OrgID    string
	TenantID string
}

type scopeKey struct{}

// WithScopeInfo 把作用域写入 context。nil 作用域不写（等同未鉴权路径）。
func WithScopeInfo(ctx context.Context, s *ScopeInfo) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// GetScopeFromContext 取出请求作用域，未注入时返回 nil，
// 调用方按「无过滤」处理。
func GetScopeFromContext(ctx context.Context) *ScopeInfo {
	s, _ := ctx.Value(scopeKey{}).(*ScopeInfo)
	return s
}
