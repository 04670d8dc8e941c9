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
	claudeBaseURL      = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	defaultClaudeModel = "claude-3-5-haiku-latest"
)

// ClaudeProvider drafts replies through the Anthropic messages API.
type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// ClaudeOption customizes the Claude provider.
type ClaudeOption func(*ClaudeProvider)

// WithClaudeBaseURL points the client at a different endpoint, primarily for tests.
func WithClaudeBaseURL(baseURL string) ClaudeOption {
	return func(p *ClaudeProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithClaudeHTTPClient overrides the HTTP client.
func WithClaudeHTTPClient(client *http.Client) ClaudeOption {
	return func(p *ClaudeProvider) {
		if client != nil {
			p.client = client
		}
	}
}

func NewClaude(apiKey string, opts ...ClaudeOption) *ClaudeProvider {
	p := &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: claudeBaseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ClaudeProvider) Name() string {
	return ProviderClaude
}

func (p *ClaudeProvider) Draft(ctx context.Context, req Request) (Draft, error) {
	if p.apiKey == "" {
		return Draft{}, errors.New("claude: api key not configured")
	}
	model := req.Model
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt(req.Tone),
		Messages: []claudeMessage{
			{Role: "user", Content: userPrompt(req)},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Draft{}, fmt.Errorf("claude: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Draft{}, fmt.Errorf("claude: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Draft{}, fmt.Errorf("claude: call api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Draft{}, fmt.Errorf("claude: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr claudeErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return Draft{}, fmt.Errorf("claude: api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return Draft{}, fmt.Errorf("claude: api error (%d)", resp.StatusCode)
	}

	var result claudeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Draft{}, fmt.Errorf("claude: decode response: %w", err)
	}
	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Draft{}, errors.New("claude: empty completion")
	}
	return Draft{Body: text, TokensUsed: result.Usage.InputTokens + result.Usage.OutputTokens}, nil
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
