package planadvisor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

type ollamaCompleter struct {
	client *api.Client
	model  string
}

// NewOllamaCompleter talks to an Ollama server at baseURL.
func NewOllamaCompleter(baseURL, model string, httpClient *http.Client) (Completer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ollamaCompleter{client: api.NewClient(u, httpClient), model: model}, nil
}

func (c *ollamaCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: m.Role, Content: m.Content})
	}
	stream := false
	think := api.ThinkValue{Value: false}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: apiMessages,
		Stream:   &stream,
		Think:    &think,
		Options:  map[string]any{"temperature": 0.1},
	}

	var final api.ChatResponse
	err := c.client.Chat(ctx, req, func(res api.ChatResponse) error {
		// Ollama sends the whole message in the final frame.
		if res.Done {
			final = res
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat with %s failed: %w", c.model, err)
	}
	if !final.Done {
		return "", fmt.Errorf("ollama chat with %s: no final response", c.model)
	}
	return final.Message.Content, nil
}
