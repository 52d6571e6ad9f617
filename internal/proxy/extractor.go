package proxy

import (
	"encoding/json"
	"strings"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tokenizer"
)

// RequestInfo holds what the proxy needs from an LLM API request to
// estimate its cost.
type RequestInfo struct {
	Provider  string
	Model     string
	Messages  []tokenizer.ChatMessage
	MaxTokens int64
}

// ResponseUsage holds the usage reported in an LLM API response.
type ResponseUsage struct {
	Model string
	Usage model.UsageQuantity
}

// DetectProvider determines the provider from the request URL or path.
func DetectProvider(host, path string) string {
	host = strings.ToLower(host)
	path = strings.ToLower(path)

	switch {
	case strings.Contains(host, "openai.com") || strings.HasPrefix(path, "/v1/chat/completions"):
		return "openai"
	case strings.Contains(host, "anthropic.com") || strings.HasPrefix(path, "/v1/messages"):
		return "anthropic"
	default:
		return ""
	}
}

// ExtractRequestInfo extracts model, messages and the output token cap from
// the request body. Unknown providers yield nil.
func ExtractRequestInfo(body []byte, provider string) (*RequestInfo, error) {
	switch provider {
	case "openai":
		return extractOpenAIRequest(body)
	case "anthropic":
		return extractAnthropicRequest(body)
	default:
		return nil, nil
	}
}

// ExtractResponseUsage extracts usage from the API response body. Unknown
// providers yield nil.
func ExtractResponseUsage(body []byte, provider string) (*ResponseUsage, error) {
	switch provider {
	case "openai":
		return extractOpenAIResponse(body)
	case "anthropic":
		return extractAnthropicResponse(body)
	default:
		return nil, nil
	}
}

func extractOpenAIRequest(body []byte) (*RequestInfo, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	messages := make([]tokenizer.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, tokenizer.ChatMessage{Role: msg.Role, Content: contentText(msg.Content)})
	}

	maxTokens := req.MaxCompletionTokens
	if maxTokens == 0 {
		maxTokens = req.MaxTokens
	}

	return &RequestInfo{
		Provider:  "openai",
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}, nil
}

func extractAnthropicRequest(body []byte) (*RequestInfo, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	messages := make([]tokenizer.ChatMessage, 0, len(req.Messages)+1)
	if system := contentText(req.System); system != "" {
		messages = append(messages, tokenizer.ChatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		messages = append(messages, tokenizer.ChatMessage{Role: msg.Role, Content: contentText(msg.Content)})
	}

	return &RequestInfo{
		Provider:  "anthropic",
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}, nil
}

func extractOpenAIResponse(body []byte) (*ResponseUsage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, nil
	}

	return &ResponseUsage{
		Model: resp.Model,
		Usage: model.UsageQuantity{
			InputUnits:  resp.Usage.PromptTokens,
			OutputUnits: resp.Usage.CompletionTokens,
			TotalUnits:  resp.Usage.TotalTokens,
		},
	}, nil
}

func extractAnthropicResponse(body []byte) (*ResponseUsage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, nil
	}

	// Cache reads and writes are billed as input.
	input := resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens
	return &ResponseUsage{
		Model: resp.Model,
		Usage: model.UsageQuantity{
			InputUnits:  input,
			OutputUnits: resp.Usage.OutputTokens,
		},
	}, nil
}

// contentText flattens message content that is either a plain string or a
// list of typed parts. Non-text parts are skipped.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OpenAI request/response structures

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	MaxTokens           int64           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int64           `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type openAIResponse struct {
	Model string       `json:"model"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Anthropic request/response structures

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    json.RawMessage    `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int64              `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicResponse struct {
	Model string          `json:"model"`
	Usage *anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}
