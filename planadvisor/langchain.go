package planadvisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

type langchainCompleter struct {
	model llms.Model
}

// NewLangchainCompleter adapts any langchaingo model.
func NewLangchainCompleter(model llms.Model) Completer {
	return &langchainCompleter{model: model}
}

// NewOpenAICompleter connects to an OpenAI compatible endpoint. An empty
// baseURL uses the public API.
func NewOpenAICompleter(baseURL, apiKey, model string) (Completer, error) {
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangchainCompleter(llm), nil
}

func (c *langchainCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0.1))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
