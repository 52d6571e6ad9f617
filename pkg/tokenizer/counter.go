package tokenizer

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// encodingFamilies maps OpenAI model family prefixes to tiktoken encodings.
// Dated or suffixed variants resolve through the longest matching prefix.
var encodingFamilies = map[string]tokenizer.Encoding{
	"gpt-4o":        tokenizer.O200kBase,
	"gpt-4.1":       tokenizer.O200kBase,
	"o1":            tokenizer.O200kBase,
	"o3":            tokenizer.O200kBase,
	"o4":            tokenizer.O200kBase,
	"gpt-4-turbo":   tokenizer.Cl100kBase,
	"gpt-4":         tokenizer.Cl100kBase,
	"gpt-3.5-turbo": tokenizer.Cl100kBase,
}

// CountTokens returns the token count for the given text and model.
// For OpenAI models it uses tiktoken; for others it uses character-based estimation.
func CountTokens(text string, provider string, model string) (int64, error) {
	if provider == "openai" {
		return countOpenAI(text, model)
	}
	return estimateTokens(text), nil
}

// EncodingFor returns the tiktoken encoding used for an OpenAI model.
// Unknown models fall back to cl100k_base.
func EncodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	best := ""
	for prefix := range encodingFamilies {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return tokenizer.Cl100kBase
	}
	return encodingFamilies[best]
}

// countOpenAI uses tiktoken to count tokens for OpenAI models.
func countOpenAI(text string, model string) (int64, error) {
	encName := EncodingFor(model)

	enc, err := tokenizer.Get(encName)
	if err != nil {
		return 0, fmt.Errorf("load encoding %s: %w", encName, err)
	}

	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}

	return int64(len(ids)), nil
}

// estimateTokens uses character-based estimation (4 chars per token on average).
// This is used for non-OpenAI providers or as a fallback.
func estimateTokens(text string) int64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	tokens := (len(text) + 3) / 4 // ceiling division by 4
	return int64(tokens)
}

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CountChatTokens counts tokens for a series of chat messages.
// Each message adds ~4 tokens of overhead for role/formatting.
func CountChatTokens(messages []ChatMessage, provider string, model string) (int64, error) {
	var total int64
	for _, msg := range messages {
		total += 4 // message overhead (role, formatting)
		for _, value := range []string{msg.Role, msg.Content} {
			count, err := CountTokens(value, provider, model)
			if err != nil {
				return 0, err
			}
			total += count
		}
	}
	total += 2 // assistant reply priming
	return total, nil
}
