package tokenizer_test

import (
	"testing"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tiktoken "github.com/tiktoken-go/tokenizer"
)

func TestCountTokens_OpenAI(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		model    string
		minCount int64
		maxCount int64
	}{
		{"short text gpt-4o", "Hello world", "gpt-4o", 1, 5},
		{"medium text gpt-4o", "The quick brown fox jumps over the lazy dog", "gpt-4o", 5, 15},
		{"empty text", "", "gpt-4o", 0, 0},
		{"gpt-4", "Hello world", "gpt-4", 1, 5},
		{"dated variant", "Hello world", "gpt-4o-2024-08-06", 1, 5},
		{"gpt-3.5-turbo", "Hello world", "gpt-3.5-turbo", 1, 5},
		{"unknown openai model falls back", "Hello world", "gpt-99", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := tokenizer.CountTokens(tt.text, "openai", tt.model)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tiktoken.Encoding
	}{
		{"gpt-4o", tiktoken.O200kBase},
		{"gpt-4o-mini-2024-07-18", tiktoken.O200kBase},
		{"GPT-4O", tiktoken.O200kBase},
		{"o3-mini", tiktoken.O200kBase},
		{"gpt-4", tiktoken.Cl100kBase},
		{"gpt-4-turbo-preview", tiktoken.Cl100kBase},
		{"gpt-3.5-turbo-0125", tiktoken.Cl100kBase},
		{"mystery", tiktoken.Cl100kBase},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenizer.EncodingFor(tt.model))
		})
	}
}

func TestCountTokens_Anthropic(t *testing.T) {
	text := "Hello, this is a test message for token counting."
	count, err := tokenizer.CountTokens(text, "anthropic", "claude-3-5-sonnet")
	require.NoError(t, err)

	// Character-based estimation: len/4
	expectedApprox := int64((len(text) + 3) / 4)
	assert.Equal(t, expectedApprox, count)
}

func TestCountTokens_EmptyText(t *testing.T) {
	count, err := tokenizer.CountTokens("", "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = tokenizer.CountTokens("   ", "anthropic", "claude-3-5-sonnet")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCountTokens_UnknownProvider(t *testing.T) {
	count, err := tokenizer.CountTokens("Hello world", "unknown", "model")
	require.NoError(t, err)
	assert.Greater(t, count, int64(0))
}

func TestCountChatTokens(t *testing.T) {
	messages := []tokenizer.ChatMessage{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "What is Go?"},
	}

	count, err := tokenizer.CountChatTokens(messages, "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Greater(t, count, int64(10))
}

func BenchmarkCountTokens_OpenAI_Short(b *testing.B) {
	for b.Loop() {
		_, _ = tokenizer.CountTokens("Hello world", "openai", "gpt-4o")
	}
}

func BenchmarkCountTokens_Estimation(b *testing.B) {
	text := "The quick brown fox jumps over the lazy dog. This is a benchmark test for token counting performance."
	for b.Loop() {
		_, _ = tokenizer.CountTokens(text, "anthropic", "claude-3-5-sonnet")
	}
}
