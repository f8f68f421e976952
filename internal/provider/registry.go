package provider

import (
	"fmt"
	"sort"
	"sync"
)

// registry 进程级 LLM 供应商注册表。
// 查询扩展按 Config.ExpansionProvider 的名字在这里查找补全后端。
type registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

var global = &registry{
	providers: make(map[string]LLMProvider),
}

// RegisterProvider 注册补全后端，同名覆盖
func RegisterProvider(p LLMProvider) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.providers[p.Name()] = p
}

// GetProvider 按名字查找补全后端
func GetProvider(name string) (LLMProvider, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	p, ok := global.providers[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return p, nil
}

// ListProviders 返回已注册的后端名（固定顺序）
func ListProviders() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	names := make([]string, 0, len(global.providers))
	for name := range global.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
