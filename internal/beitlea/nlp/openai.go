package nlp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second

	// maxCompletionTokens bounds the reply length; the policy prompt already
	// asks for 2-3 sentences, this is the hard stop.
	maxCompletionTokens = 500

	// samplingTemperature is kept low so the delimited block format stays
	// stable across turns.
	samplingTemperature = 0.3
)

// Config configures the OpenAI-compatible completion provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to the public OpenAI endpoint when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty
	// (cost-efficient, sufficient for request summarisation).
	Model string

	// Timeout bounds each completion call. Defaults to 30 s.
	Timeout time.Duration
}

// openAICompleter implements Completer using the OpenAI chat completions API.
type openAICompleter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewCompleter returns a Completer backed by the OpenAI (or compatible) chat
// API. The returned value is safe for concurrent use.
func NewCompleter(cfg Config) Completer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAICompleter{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (p *openAICompleter) Complete(ctx context.Context, payload Payload) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: payload.System},
	}
	if payload.ContextNote != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: payload.ContextNote,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: payload.User,
	})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxCompletionTokens,
		Temperature: samplingTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("nlp: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("nlp: no choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
