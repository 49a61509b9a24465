// Package llm requests documentation edits from an OpenAI-compatible chat
// completion API, constrained to the edit payload JSON schema.
package llm

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

//go:embed schema.json
var schema []byte

// Schema returns the JSON schema every response must satisfy.
func Schema() json.RawMessage {
	return json.RawMessage(schema)
}

var (
	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

	// ErrNoChoices is returned when the API answers without any completion.
	ErrNoChoices = errors.New("model returned no choices")
)

// Client turns a prompt into the raw JSON edit payload.
type Client interface {
	Request(ctx context.Context, instructions, input string) ([]byte, error)
}

// Options configures an OpenAI client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAIClient is a Client backed by the chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// New returns a client for opts.
func New(opts Options) (*OpenAIClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	slog.Debug("initializing model client", "model", opts.Model, "base_url", cfg.BaseURL)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
	}, nil
}

// Request sends instructions as the system message and input as the user
// message and returns the content of the first choice.
func (c *OpenAIClient) Request(ctx context.Context, instructions, input string) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "code_documentation_edits",
				Schema: Schema(),
				Strict: true,
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	slog.Debug("model responded",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return []byte(resp.Choices[0].Message.Content), nil
}
