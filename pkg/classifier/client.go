package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/pkg/convo"
)

// chatMessage is the provider-agnostic chat message shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the endpoint.
type chatResponse struct {
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("classifier: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible classifier backed by chat
// completions with strict JSON-schema response formats, so every verdict
// comes back as a parseable structured object.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a classifier Client for the given model and API key.
func NewClient(model, apiKey string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, errors.New("classifier: model must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("classifier: API key must not be empty")
	}
	c := &Client{
		baseURL:    "https://api.openai.com/v1",
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) chatURL() string {
	base := c.baseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// chat performs one structured completion and returns the raw JSON content
// of the first choice.
func (c *Client) chat(ctx context.Context, system, user string, format *responseFormat) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: marshal request: %w", err)
	}

	url := c.chatURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("classifier: read response body: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return nil, errors.New("classifier: no choices in response")
	}
	return []byte(payload.Choices[0].Message.Content), nil
}

func schemaFormat(name string, schema string) *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   name,
			Strict: true,
			Schema: json.RawMessage(schema),
		},
	}
}

// DetectRequest implements Classifier.
func (c *Client) DetectRequest(ctx context.Context, msg convo.Message, recent []convo.Message) (convo.RequestSignal, error) {
	format := schemaFormat("request_signal", `{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"is_request":{"type":"boolean"},
			"is_complaint":{"type":"boolean"},
			"summary":{"type":"string"}
		},
		"required":["is_request","is_complaint","summary"]
	}`)

	user := fmt.Sprintf("Recent context:\n%s\nCustomer message:\n%s", renderTranscript(recent), msg.Text)
	raw, err := c.chat(ctx,
		"You analyze one customer support message. Report whether it contains an actionable request and whether it is a complaint. Summarize the request in one sentence.",
		user, format)
	if err != nil {
		return convo.RequestSignal{}, err
	}

	var sig convo.RequestSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return convo.RequestSignal{}, fmt.Errorf("classifier: decode request signal: %w", err)
	}
	return sig, nil
}

// ShouldClose implements Classifier.
func (c *Client) ShouldClose(ctx context.Context, recent []convo.Message) (convo.CloseVerdict, error) {
	format := schemaFormat("close_verdict", `{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"should_close":{"type":"boolean"},
			"confidence":{"type":"integer","minimum":0,"maximum":100},
			"reason":{"type":"string"}
		},
		"required":["should_close","confidence","reason"]
	}`)

	raw, err := c.chat(ctx,
		"You judge whether a customer support conversation has ended. Closing signals: the customer's issue is resolved, goodbyes were exchanged, or the agent delivered a final answer with no open follow-up. Report confidence 0-100.",
		renderTranscript(recent), format)
	if err != nil {
		return convo.CloseVerdict{}, err
	}

	var v convo.CloseVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return convo.CloseVerdict{}, fmt.Errorf("classifier: decode close verdict: %w", err)
	}
	return v, nil
}

// ShouldReopen implements Classifier.
func (c *Client) ShouldReopen(ctx context.Context, msg convo.Message) (bool, error) {
	format := schemaFormat("reopen_verdict", `{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"should_reopen":{"type":"boolean"}
		},
		"required":["should_reopen"]
	}`)

	raw, err := c.chat(ctx,
		"A closed support conversation received a new message. Reopen only for a new request, a complaint, or any non-trivial content. A bare acknowledgement (\"thanks\", \"ok\", an emoji) does not reopen.",
		msg.Text, format)
	if err != nil {
		return false, err
	}

	var v struct {
		ShouldReopen bool `json:"should_reopen"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("classifier: decode reopen verdict: %w", err)
	}
	return v.ShouldReopen, nil
}

// Score implements Classifier.
func (c *Client) Score(ctx context.Context, conv convo.Conversation, transcript []convo.Message, requests []convo.Request) (convo.ScoreResult, error) {
	format := schemaFormat("score_result", `{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"score":{"type":"integer","minimum":0,"maximum":100},
			"summary":{"type":"string"}
		},
		"required":["score","summary"]
	}`)

	var reqLines strings.Builder
	for _, r := range requests {
		status := "open"
		if r.Resolved {
			status = "resolved"
		} else if r.Overdue {
			status = "overdue"
		}
		fmt.Fprintf(&reqLines, "- [%s] %s\n", status, r.Summary)
	}

	user := fmt.Sprintf("Conversation %s (reopened %d times).\nDetected requests:\n%s\nTranscript:\n%s",
		conv.Key, conv.ReopenCount, reqLines.String(), renderTranscript(transcript))

	raw, err := c.chat(ctx,
		"You grade the service quality of a finished customer support conversation from 0 (unacceptable) to 100 (excellent), weighing responsiveness, resolution of requests, and tone. Summarize the grade in two sentences.",
		user, format)
	if err != nil {
		return convo.ScoreResult{}, err
	}

	var r convo.ScoreResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return convo.ScoreResult{}, fmt.Errorf("classifier: decode score result: %w", err)
	}
	r.Model = c.model
	return r, nil
}
