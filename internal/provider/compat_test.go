package provider

import (
	"net/http"
	"testing"
)

func TestTokenFieldForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", FieldMaxTokens},
		{"gpt-4.1", FieldMaxTokens},
		{"gpt-5", FieldMaxCompletionTokens},
		{"gpt-5-mini", FieldMaxCompletionTokens},
		{"GPT-5-Turbo", FieldMaxCompletionTokens},
		{"o1-preview", FieldMaxCompletionTokens},
		{"o3-mini", FieldMaxCompletionTokens},
		{"o4-mini", FieldMaxCompletionTokens},
		{"deepseek-chat", FieldMaxTokens},
		{"  gpt-5  ", FieldMaxCompletionTokens},
		{"", FieldMaxTokens},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := TokenFieldForModel(tt.model); got != tt.want {
				t.Fatalf("TokenFieldForModel(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestAlternateTokenField(t *testing.T) {
	if got := AlternateTokenField(FieldMaxTokens); got != FieldMaxCompletionTokens {
		t.Fatalf("got %q", got)
	}
	if got := AlternateTokenField(FieldMaxCompletionTokens); got != FieldMaxTokens {
		t.Fatalf("got %q", got)
	}
}

func TestCorrectTokenField(t *testing.T) {
	structured := []byte(`{"error":{"message":"Unsupported parameter: 'max_tokens' is not supported with this model. Use 'max_completion_tokens' instead.","type":"invalid_request_error","param":"max_tokens","code":"unsupported_parameter"}}`)
	textOnly := []byte(`{"error":{"message":"use max_completion_tokens instead of max_tokens for this model"}}`)
	unrelated := []byte(`{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`)

	tests := []struct {
		name      string
		status    int
		body      []byte
		usedField string
		want      string
		wantOK    bool
	}{
		{"structured unsupported_parameter", http.StatusBadRequest, structured, FieldMaxTokens, FieldMaxCompletionTokens, true},
		{"message text fallback", http.StatusBadRequest, textOnly, FieldMaxTokens, FieldMaxCompletionTokens, true},
		{"unrelated 400", http.StatusBadRequest, unrelated, FieldMaxTokens, "", false},
		{"non-400 never corrected", http.StatusInternalServerError, structured, FieldMaxTokens, "", false},
		{"401 never corrected", http.StatusUnauthorized, structured, FieldMaxTokens, "", false},
		// param 不匹配时 code 分支不命中，但 message 同时提到两个字段名，文本分支仍会换字段
		{"param mismatch falls to message", http.StatusBadRequest, structured, FieldMaxCompletionTokens, FieldMaxTokens, true},
		{"param mismatch plain message", http.StatusBadRequest, unrelated, FieldMaxCompletionTokens, "", false},
		{"malformed body", http.StatusBadRequest, []byte("<html>bad gateway</html>"), FieldMaxTokens, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CorrectTokenField(tt.status, tt.body, tt.usedField)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("CorrectTokenField(%d, %s) = (%q, %v), want (%q, %v)",
					tt.status, tt.usedField, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
