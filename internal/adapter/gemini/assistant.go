package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"prodsync/apps/backend/internal/assistant"
)

// Assistant answers gate and rewrite calls with a Gemini chat model.
type Assistant struct {
	client *genai.Client
	model  string
}

func NewAssistant(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Assistant, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Assistant{client: client, model: model}, nil
}

func (a *Assistant) Close() error {
	return a.client.Close()
}

func (a *Assistant) generate(ctx context.Context, prompt, query string, jsonMode bool) (string, error) {
	m := a.client.GenerativeModel(a.model)
	m.SystemInstruction = genai.NewUserContent(genai.Text(prompt))
	m.SetTemperature(0)
	if jsonMode {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(query))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// Approve reports whether query is a legitimate product search.
func (a *Assistant) Approve(ctx context.Context, query string) (bool, error) {
	out, err := a.generate(ctx, assistant.GatePrompt, query, true)
	if err != nil {
		return false, fmt.Errorf("gate call failed: %w", err)
	}
	return assistant.ParseVerdict(out)
}

// Rewrite standardizes query for search.
func (a *Assistant) Rewrite(ctx context.Context, query string) (string, error) {
	out, err := a.generate(ctx, assistant.RewritePrompt, query, false)
	if err != nil {
		return "", fmt.Errorf("rewrite call failed: %w", err)
	}
	return assistant.CleanRewrite(out), nil
}
