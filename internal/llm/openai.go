package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-dx/aura/config"
)

// Client implements Provider over the OpenAI chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
	httpClient *http.Client
}

// NewClient builds a client from the llm config section.
func NewClient(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []any           `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat implements Provider.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonMode bool) (string, Usage, error) {
	msgs := make([]any, len(messages))
	for i, m := range messages {
		msgs[i] = m
	}
	req := chatRequest{Model: model, Messages: msgs, Temperature: 0.2}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return c.send(ctx, req)
}

// ChatVision implements Provider. The image is attached as a base64 data URL
// content part alongside the text prompt.
func (c *Client) ChatVision(ctx context.Context, model, prompt string, image []byte) (string, Usage, error) {
	dataURL := "data:" + sniffImageType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	content := []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}
	req := chatRequest{
		Model:       model,
		Messages:    []any{map[string]any{"role": "user", "content": content}},
		Temperature: 0.2,
	}
	return c.send(ctx, req)
}

// send posts the request, retrying transient failures with exponential
// backoff.
func (c *Client) send(ctx context.Context, body chatRequest) (string, Usage, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API returned status: %d", resp.StatusCode)
			continue
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", Usage{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			if parsed.Error != nil {
				return "", Usage{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, parsed.Error.Message)
			}
			return "", Usage{}, fmt.Errorf("API returned status: %d", resp.StatusCode)
		}
		if len(parsed.Choices) == 0 {
			return "", Usage{}, fmt.Errorf("no choices in response")
		}
		return parsed.Choices[0].Message.Content, parsed.Usage, nil
	}
	return "", Usage{}, lastErr
}

func sniffImageType(image []byte) string {
	switch {
	case len(image) >= 8 && bytes.HasPrefix(image, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case len(image) >= 3 && bytes.HasPrefix(image, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	default:
		return "image/jpeg"
	}
}
