package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client is the single text-completion boundary every LLM-backed component
// goes through. Requests are routed to an OpenAI-compatible endpoint
// (AIPipe/OpenRouter in production).
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

type Config struct {
	Token   string
	Model   string
	BaseURL string
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	oc := openai.DefaultConfig(cfg.Token)
	oc.BaseURL = cfg.BaseURL
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger,
	}
}

// Complete issues one chat completion and returns the raw assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("llm completion",
		zap.String("model", c.model),
		zap.Int("promptChars", len(system)+len(user)),
		zap.Int("responseChars", len(content)))
	return content, nil
}
