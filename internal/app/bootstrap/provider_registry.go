package bootstrap

import (
	"queryweave/internal/adapter/provider/llm/openai"
	applog "queryweave/internal/platform/log"
	"queryweave/internal/provider"
)

// RegisterLLMProviders registers configured LLM providers.
func RegisterLLMProviders(apiKey, baseURL string) {
	if apiKey == "" {
		applog.Warn("⚠️  No OPENAI_API_KEY set, query expansion will not work")
		return
	}

	p := openai.New(openai.Config{
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
	provider.RegisterProvider(p)
	applog.Infof("✅ Registered LLM providers: %v (base: %s)", provider.ListProviders(), baseURL)
}
