package localagents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contenox/planner/agentregistry"
)

const WebhookName = "webhook"

// WebCaller makes HTTP requests. The step command is the HTTP method.
type WebCaller struct {
	client         *http.Client
	defaultHeaders map[string]string
}

type webhookArgs struct {
	URL     string            `json:"url"`
	Query   json.RawMessage   `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type WebhookOption func(*WebCaller)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(h *WebCaller) {
		h.client = client
	}
}

func WithDefaultHeader(key, value string) WebhookOption {
	return func(h *WebCaller) {
		h.defaultHeaders[key] = value
	}
}

func NewWebCaller(options ...WebhookOption) agentregistry.Capability {
	wh := &WebCaller{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Accept": "application/json",
		},
	}
	for _, opt := range options {
		opt(wh)
	}
	return wh
}

func (h *WebCaller) Execute(ctx context.Context, inv agentregistry.Invocation) (agentregistry.Result, error) {
	var args webhookArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return fail("webhook: invalid args: %v", err), nil
	}
	if args.URL == "" {
		return fail("webhook: missing 'url' argument"), nil
	}
	target, err := url.Parse(args.URL)
	if err != nil {
		return fail("webhook: invalid URL: %v", err), nil
	}
	if len(args.Query) > 0 {
		params, err := parseQuery(args.Query)
		if err != nil {
			return fail("webhook: invalid query parameters: %v", err), nil
		}
		q := target.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(inv.Command))
	if method == "" {
		method = http.MethodGet
		if len(args.Body) > 0 {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if len(args.Body) > 0 {
		body = bytes.NewReader(args.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fail("webhook: failed to create request: %v", err), nil
	}
	for k, v := range h.defaultHeaders {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return agentregistry.Result{}, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return agentregistry.Result{}, fmt.Errorf("webhook: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail("webhook failed with status %d: %s", resp.StatusCode, string(respBody)), nil
	}
	if json.Valid(respBody) && len(bytes.TrimSpace(respBody)) > 0 {
		return agentregistry.Result{Success: true, Output: respBody}, nil
	}
	out, _ := json.Marshal(string(respBody))
	return agentregistry.Result{Success: true, Output: out}, nil
}

// parseQuery accepts either an encoded query string or an object of strings.
func parseQuery(raw json.RawMessage) (url.Values, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return url.ParseQuery(encoded)
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return values, nil
}

func fail(format string, a ...any) agentregistry.Result {
	return agentregistry.Result{Success: false, Error: fmt.Sprintf(format, a...)}
}

var _ agentregistry.Capability = (*WebCaller)(nil)
