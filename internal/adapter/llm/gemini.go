package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"ragchat/internal/port"
)

var _ port.LLM = (*GeminiChat)(nil)

type GeminiChat struct {
	client *genai.Client
	model  string
}

func NewGeminiChat(ctx context.Context, apiKey, model string) (*GeminiChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini chat: API key is empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GeminiChat{client: client, model: model}, nil
}

func (c *GeminiChat) Generate(ctx context.Context, prompt string) (string, error) {
	gm := c.client.GenerativeModel(c.model)
	gm.SetTemperature(0)

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (c *GeminiChat) ModelName() string {
	return c.model
}

func (c *GeminiChat) Close() error {
	return c.client.Close()
}
