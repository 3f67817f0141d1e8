package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	xaiBaseURL    = "https://api.x.ai/v1"
)

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
// OpenAI and xAI share it and differ only in base URL, model and JSON mode.
type ChatClient struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	jsonMode   bool
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

// NewOpenAI returns a client for api.openai.com with JSON response mode on.
func NewOpenAI(apiKey, model string, logger *slog.Logger) *ChatClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatClient{
		name:     ProviderOpenAI,
		apiKey:   apiKey,
		model:    model,
		baseURL:  openAIBaseURL,
		jsonMode: true,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger,
	}
}

// NewXAI returns a client for api.x.ai.
func NewXAI(apiKey, model string, logger *slog.Logger) *ChatClient {
	if model == "" {
		model = "grok-2"
	}
	return &ChatClient{
		name:    ProviderXAI,
		apiKey:  apiKey,
		model:   model,
		baseURL: xaiBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// SetTestTransport points the client at a test server.
func (c *ChatClient) SetTestTransport(baseURL string) {
	c.baseURL = baseURL
}

func (c *ChatClient) Name() string { return c.name }

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Messages       []Message       `json:"messages"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the system prompt followed by messages and returns the
// content of the first choice. A response with no choices yields "".
func (c *ChatClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	msgs := make([]Message, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, messages...)

	reqBody := chatRequest{
		Model:       c.model,
		Temperature: defaultTemperature,
		Messages:    msgs,
	}
	if c.jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, c.client, c.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}, c.logger)
	if err != nil {
		return "", fmt.Errorf("%s call: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("%s error %d: %s: %s", c.name, resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return "", fmt.Errorf("%s error %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", nil
	}

	c.logger.Debug("chat completion done",
		"provider", c.name,
		"model", c.model,
		"prompt_tokens", apiResp.Usage.PromptTokens,
		"completion_tokens", apiResp.Usage.CompletionTokens,
	)

	return apiResp.Choices[0].Message.Content, nil
}
