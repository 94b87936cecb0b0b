package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompletionServer answers the chat completions endpoint and captures
// the last request body for assertions.
func fakeCompletionServer(t *testing.T, reply string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIClientComplete(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	var got openai.ChatCompletionRequest
	srv := fakeCompletionServer(t, "Check the gas cap seal first.", &got)
	defer srv.Close()

	client, err := NewOpenAIClient(WithModel("gpt-4o-mini"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(),
		"You are an automotive assistant.",
		"Why is my check engine light on?",
		GenerationParams{Temperature: Float32Ptr(0.7), MaxTokens: IntPtr(1000)},
	)
	require.NoError(t, err)
	assert.Equal(t, "Check the gas cap seal first.", reply)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "You are an automotive assistant.", got.Messages[0].Content)
	assert.Equal(t, "Why is my check engine light on?", got.Messages[1].Content)
	assert.InDelta(t, 0.7, got.Temperature, 0.001)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "sys", "user", GenerationParams{})
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestNewOpenAIClientMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAIClient()
	assert.Error(t, err)
}
