package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brazier/config"
	apperrors "brazier/errors"

	"go.uber.org/zap"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client talks to an OpenAI-compatible chat-completions and embeddings API.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	// Timeouts are enforced here; callers pass a context for cancellation.
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ProviderRequestTimeout},
		logger:     logger,
	}
}

// Chat performs a non-streaming chat completion call. When jsonMode is set
// the provider is instructed to emit a single JSON object.
// temperature is optional; pass nil to use the server default.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonMode bool, temperature *float64) (string, error) {
	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(c.cfg.ProviderHost, "/"))
	bodyBytes, err := c.post(ctx, url, jsonBody)
	if err != nil {
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(bodyBytes, &cr); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", apperrors.ErrMalformedOutput, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", apperrors.ErrMalformedOutput)
	}
	return cr.Choices[0].Message.Content, nil
}

// Embed generates an embedding vector for the provided input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: empty embedding input", apperrors.ErrInvalidInput)
	}

	reqBody := embeddingRequest{Model: c.cfg.EmbeddingModel, Input: input}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", strings.TrimRight(c.cfg.ProviderHost, "/"))
	bodyBytes, err := c.post(ctx, url, jsonBody)
	if err != nil {
		return nil, err
	}

	var er embeddingResponse
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, fmt.Errorf("%w: decode embedding response: %v", apperrors.ErrMalformedOutput, err)
	}
	if len(er.Data) == 0 || len(er.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding response was empty", apperrors.ErrMalformedOutput)
	}
	return er.Data[0].Embedding, nil
}

// post sends the request with retries on transient provider statuses.
// Context cancellation is never retried.
func (c *Client) post(ctx context.Context, url string, jsonBody []byte) ([]byte, error) {
	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create provider request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.ProviderAPIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.ProviderAPIKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable || r.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			c.logger.Warn("Provider throttling, retrying",
				zap.Int("status", r.StatusCode),
				zap.Int("attempt", attempt+1))
			c.backoffSleep(attempt)
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: no response from provider: %v", apperrors.ErrProvider, lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read provider response: %v", apperrors.ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s: %s", apperrors.ErrProvider, resp.Status, truncateBody(bodyBytes))
	}
	return bodyBytes, nil
}

func (c *Client) backoffSleep(attempt int) {
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second
	}
	time.Sleep(base * time.Duration(1<<attempt))
}

func truncateBody(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
