package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

func createTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewAnthropicProvider(types.ProviderPrimaryAI, &AnthropicConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		SystemPrompt: "Responda em português.",
	}, logger)
}

func messageHandler(t *testing.T, text string, seen *map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       defaultModel,
			"content":     []map[string]string{{"type": "text", "text": text}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 11, "output_tokens": 7},
		})
	}
}

func TestAnthropicProvider_SendMessage(t *testing.T) {
	var seen map[string]interface{}
	provider := createTestProvider(t, messageHandler(t, "Claro! Posso ajudar.", &seen))

	resp, err := provider.SendMessage(context.Background(), types.MessageContext{Text: "Preciso de ajuda"})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Claro! Posso ajudar.", resp.Content)
	assert.Equal(t, 18, resp.Tokens)
	assert.Equal(t, defaultModel, seen["model"])
	assert.EqualValues(t, 300, seen["max_tokens"])
	assert.NotNil(t, seen["system"])
}

func TestAnthropicProvider_SendMessage_NoText(t *testing.T) {
	provider := createTestProvider(t, messageHandler(t, "", nil))

	resp, err := provider.SendMessage(context.Background(), types.MessageContext{Text: "oi"})

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no text content")
}

func TestAnthropicProvider_SendMessage_Error(t *testing.T) {
	provider := createTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"internal"}}`))
	})

	resp, err := provider.SendMessage(context.Background(), types.MessageContext{Text: "oi"})

	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestAnthropicProvider_HealthCheck(t *testing.T) {
	var seen map[string]interface{}
	provider := createTestProvider(t, messageHandler(t, "p", &seen))

	resp, err := provider.HealthCheck(context.Background())

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.EqualValues(t, 1, seen["max_tokens"])
	assert.Equal(t, types.ProviderPrimaryAI, provider.ID())
}
