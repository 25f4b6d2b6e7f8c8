package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"prodsync/apps/backend/internal/assistant"
)

// Assistant answers gate and rewrite calls with a chat model.
type Assistant struct {
	client llms.Model
}

func NewAssistant(cfg Config) (*Assistant, error) {
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("openai chat model not configured")
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.token()),
		openai.WithModel(cfg.ChatModel),
	)
	if err != nil {
		return nil, err
	}
	return &Assistant{client: client}, nil
}

func (a *Assistant) generate(ctx context.Context, prompt, query string, opts ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(query)},
		},
	}

	opts = append(opts, llms.WithTemperature(0.0))
	resp, err := a.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// Approve reports whether query is a legitimate product search.
func (a *Assistant) Approve(ctx context.Context, query string) (bool, error) {
	out, err := a.generate(ctx, assistant.GatePrompt, query, llms.WithJSONMode())
	if err != nil {
		return false, fmt.Errorf("gate call failed: %w", err)
	}
	return assistant.ParseVerdict(out)
}

// Rewrite standardizes query for search.
func (a *Assistant) Rewrite(ctx context.Context, query string) (string, error) {
	out, err := a.generate(ctx, assistant.RewritePrompt, query)
	if err != nil {
		return "", fmt.Errorf("rewrite call failed: %w", err)
	}
	return assistant.CleanRewrite(out), nil
}
