package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements CompletionClient against the OpenAI chat API.
//
// The API key is sealed in a memguard enclave and only opened for the
// duration of building a request client, so the plaintext key is not
// sitting in an ordinary heap string for the process lifetime.
type OpenAIClient struct {
	key     *memguard.Enclave
	model   string
	baseURL string
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the completion model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIClient) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at a non-default API endpoint. Used by
// tests and by deployments that front OpenAI with a proxy.
func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAIClient) { o.baseURL = url }
}

// NewOpenAIClient reads the API key from OPENAI_API_KEY or, failing that,
// from the container secret at /run/secrets/openai_api_key.
func NewOpenAIClient(opts ...OpenAIOption) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	c := &OpenAIClient{
		key:   memguard.NewEnclave([]byte(apiKey)),
		model: openai.GPT4oMini,
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Info("Initializing OpenAI client", "model", c.model)
	return c, nil
}

// api opens the key enclave and builds a request-scoped API client.
func (o *OpenAIClient) api() (*openai.Client, error) {
	buf, err := o.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()

	cfg := openai.DefaultConfig(buf.String())
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Complete implements the CompletionClient interface.
func (o *OpenAIClient) Complete(ctx context.Context, systemPrompt, userMessage string, params GenerationParams) (string, error) {
	client, err := o.api()
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", ErrNoCompletion
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
