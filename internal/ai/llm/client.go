package llm

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
	"unicode/utf8"

	"market-signal-engine/internal/ai/providers"
)

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// Target is one resolved provider endpoint for a single call
type Target struct {
	Provider string
	Protocol providers.Protocol
	Endpoint string
	Model    string
	APIKey   string
	Headers  map[string]string
}

// TargetFor builds the call target for a selected provider
func TargetFor(choice *providers.Choice, fast bool) Target {
	return Target{
		Provider: choice.Spec.Name,
		Protocol: choice.Spec.Protocol,
		Endpoint: choice.Spec.Endpoint,
		Model:    choice.Spec.ModelFor(fast),
		APIKey:   choice.Credential,
		Headers:  choice.Spec.Headers,
	}
}

// Result is the text a provider returned and how long the call took
type Result struct {
	Text    string
	Latency time.Duration
}

// Client is the LLM API client. It speaks the chat-completion and
// generative-content envelopes.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new LLM client
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewClientWithHTTP creates a client over a caller supplied http.Client
func NewClientWithHTTP(config *ClientConfig, httpClient *http.Client) *Client {
	c := NewClient(config)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents an OpenAI-compatible chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse represents an OpenAI-compatible chat completion response
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerativeRequest represents a generateContent request
type GenerativeRequest struct {
	Contents         []GenerativeContent `json:"contents"`
	GenerationConfig GenerationConfig    `json:"generationConfig"`
}

// GenerativeContent is one content block of a generateContent call
type GenerativeContent struct {
	Role  string           `json:"role,omitempty"`
	Parts []GenerativePart `json:"parts"`
}

// GenerativePart is a text part
type GenerativePart struct {
	Text string `json:"text"`
}

// GenerationConfig limits the generated output
type GenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

// GenerativeResponse represents a generateContent response
type GenerativeResponse struct {
	Candidates []struct {
		Content struct {
			Parts []GenerativePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Call sends one completion request to target and returns the model text
func (c *Client) Call(ctx context.Context, target Target, systemPrompt, userPrompt string, maxTokens int) (*Result, error) {
	switch target.Protocol {
	case providers.ProtocolGenerative:
		return c.callGenerative(ctx, target, systemPrompt, userPrompt, maxTokens)
	case providers.ProtocolChat, "":
		return c.callChat(ctx, target, systemPrompt, userPrompt, maxTokens)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", target.Protocol)
	}
}

// callChat sends a request to an OpenAI-compatible chat completion endpoint
func (c *Client) callChat(ctx context.Context, target Target, systemPrompt, userPrompt string, maxTokens int) (*Result, error) {
	messages := []Message{}
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	req := ChatRequest{
		Model:       target.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.config.Temperature,
	}

	headers := map[string]string{"Authorization": "Bearer " + target.APIKey}
	for k, v := range target.Headers {
		headers[k] = v
	}

	respBody, latency, err := c.post(ctx, target.Provider, target.Endpoint, req, headers)
	if err != nil {
		return nil, err
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &APIError{Provider: target.Provider, StatusCode: http.StatusOK, Body: snippet(respBody), Err: ErrMalformedResponse}
	}
	if chatResp.Error != nil {
		return nil, &APIError{Provider: target.Provider, StatusCode: http.StatusOK, Body: chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return nil, &APIError{Provider: target.Provider, StatusCode: http.StatusOK, Body: snippet(respBody), Err: ErrEmptyResponse}
	}

	return &Result{Text: StripCodeFences(chatResp.Choices[0].Message.Content), Latency: latency}, nil
}

// callGenerative sends a request to a generateContent endpoint. System and
// user prompts travel as one text part; the credential travels as a query
// parameter.
func (c *Client) callGenerative(ctx context.Context, target Target, systemPrompt, userPrompt string, maxTokens int) (*Result, error) {
	text := userPrompt
	if systemPrompt != "" {
		text = systemPrompt + "\n\n" + userPrompt
	}
	req := GenerativeRequest{
		Contents: []GenerativeContent{
			{Parts: []GenerativePart{{Text: text}}},
		},
		GenerationConfig: GenerationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     c.config.Temperature,
		},
	}

	endpoint, err := generativeURL(target)
	if err != nil {
		return nil, err
	}

	respBody, latency, err := c.post(ctx, target.Provider, endpoint, req, target.Headers)
	if err != nil {
		return nil, err
	}

	var genResp GenerativeResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, &APIError{Provider: target.Provider, StatusCode: http.StatusOK, Body: snippet(respBody), Err: ErrMalformedResponse}
	}
	if genResp.Error != nil {
		return nil, &APIError{Provider: target.Provider, StatusCode: genResp.Error.Code, Body: genResp.Error.Status + ": " + genResp.Error.Message}
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 ||
		strings.TrimSpace(genResp.Candidates[0].Content.Parts[0].Text) == "" {
		return nil, &APIError{Provider: target.Provider, StatusCode: http.StatusOK, Body: snippet(respBody), Err: ErrEmptyResponse}
	}

	return &Result{Text: StripCodeFences(genResp.Candidates[0].Content.Parts[0].Text), Latency: latency}, nil
}

// post marshals body, sends it and returns the raw response body along with
// the time spent on the network round trip
func (c *Client) post(ctx context.Context, provider, endpoint string, body interface{}, headers map[string]string) ([]byte, time.Duration, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, time.Since(start), fmt.Errorf("failed to send request to %s: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, latency, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: snippet(respBody)}
	}
	return respBody, latency, nil
}

func generativeURL(target Target) (string, error) {
	endpoint := target.Endpoint
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, target.Model)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint for %s: %w", target.Provider, err)
	}
	q := u.Query()
	q.Set("key", target.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StripCodeFences removes a surrounding markdown code fence
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// Drop the language tag line
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func snippet(body []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
