package provider

import (
	"encoding/json"
	"net/http"
	"strings"
)

// max tokens 参数在不同模型族上的字段名
const (
	FieldMaxTokens           = "max_tokens"
	FieldMaxCompletionTokens = "max_completion_tokens"
)

// TokenFieldForModel 按模型族选择 max tokens 请求字段名。
// 新一代推理模型（gpt-5 / o 系列）只接受 max_completion_tokens，
// 其余 OpenAI 兼容模型沿用 max_tokens。
func TokenFieldForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-5"):
		return FieldMaxCompletionTokens
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return FieldMaxCompletionTokens
	default:
		return FieldMaxTokens
	}
}

// AlternateTokenField 返回另一个 max tokens 字段名
func AlternateTokenField(field string) string {
	if field == FieldMaxTokens {
		return FieldMaxCompletionTokens
	}
	return FieldMaxTokens
}

// openAIError OpenAI 风格错误体
type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
		Code    string `json:"code"`
	} `json:"error"`
}

// CorrectTokenField 判断一次失败响应是否为「max tokens 参数名不匹配」错误。
// 命中时返回应改用的字段名；仅对 HTTP 400 生效，其他错误不做纠正。
func CorrectTokenField(statusCode int, body []byte, usedField string) (string, bool) {
	if statusCode != http.StatusBadRequest {
		return "", false
	}

	var apiErr openAIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return "", false
	}

	e := apiErr.Error
	if e.Code == "unsupported_parameter" && e.Param == usedField {
		return AlternateTokenField(usedField), true
	}

	// 部分网关不带 code/param，只能从 message 文本判断
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, usedField) && strings.Contains(msg, AlternateTokenField(usedField)) {
		return AlternateTokenField(usedField), true
	}

	return "", false
}
