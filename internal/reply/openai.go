package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"

	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"
	defaultMaxTokens     = 1024
)

// chatCompletionClient speaks the OpenAI-compatible chat completions API.
// DeepSeek exposes the same wire format, so both providers share it.
type chatCompletionClient struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

// ChatOption customizes an OpenAI-compatible provider.
type ChatOption func(*chatCompletionClient)

// WithChatBaseURL points the client at a different endpoint, primarily for tests.
func WithChatBaseURL(baseURL string) ChatOption {
	return func(c *chatCompletionClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithChatHTTPClient overrides the HTTP client.
func WithChatHTTPClient(client *http.Client) ChatOption {
	return func(c *chatCompletionClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewOpenAI returns the OpenAI chat completions provider.
func NewOpenAI(apiKey string, opts ...ChatOption) Provider {
	return newChatClient(ProviderOpenAI, apiKey, openAIBaseURL, defaultOpenAIModel, opts...)
}

// NewDeepSeek returns the DeepSeek provider over the same wire format.
func NewDeepSeek(apiKey string, opts ...ChatOption) Provider {
	return newChatClient(ProviderDeepSeek, apiKey, deepSeekBaseURL, defaultDeepSeekModel, opts...)
}

func newChatClient(name, apiKey, baseURL, model string, opts ...ChatOption) *chatCompletionClient {
	c := &chatCompletionClient{
		name:         name,
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: model,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *chatCompletionClient) Name() string {
	return c.name
}

func (c *chatCompletionClient) Draft(ctx context.Context, req Request) (Draft, error) {
	if c.apiKey == "" {
		return Draft{}, fmt.Errorf("%s: api key not configured", c.name)
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := chatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.Tone)},
			{Role: "user", Content: userPrompt(req)},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Draft{}, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Draft{}, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Draft{}, fmt.Errorf("%s: call api: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Draft{}, fmt.Errorf("%s: read response: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return Draft{}, fmt.Errorf("%s: api error (%d): %s", c.name, resp.StatusCode, apiErr.Error.Message)
		}
		return Draft{}, fmt.Errorf("%s: api error (%d)", c.name, resp.StatusCode)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Draft{}, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	if len(result.Choices) == 0 {
		return Draft{}, errors.New(c.name + ": empty completion")
	}
	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return Draft{}, errors.New(c.name + ": empty completion")
	}
	return Draft{Body: text, TokensUsed: result.Usage.TotalTokens}, nil
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
