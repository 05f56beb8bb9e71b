package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyseer/polyseer/internal/domain"
)

const (
	defaultChatModel      = "gpt-4o"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// Client talks to an OpenAI-compatible API for chat completions and text
// embeddings. The forecasting model is treated as a black box: prompts go
// in, free text comes out, and parsing happens downstream.
type Client struct {
	baseURL        string
	apiKey         string
	chatModel      string
	embeddingModel string
	temperature    float64
	httpClient     *http.Client
	logger         *slog.Logger
}

// Config holds the oracle connection settings.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float64
}

// NewClient creates an oracle client. Empty model names fall back to
// defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "oracle"),
	}
}

// Forecast returns the model's probabilistic statement for one market
// outcome. The response is free text, not a parsed probability.
func (c *Client) Forecast(ctx context.Context, question, description, outcome string) (string, error) {
	text, err := c.complete(ctx, superforecasterPrompt(question, description, outcome))
	if err != nil {
		return "", fmt.Errorf("oracle: forecast: %w", err)
	}
	return text, nil
}

// RecommendTrade asks the model for one trade in the pipeline's grammar,
// given its own earlier prediction and the market's current prices.
func (c *Client) RecommendTrade(ctx context.Context, prediction string, outcomes []string, outcomePrices []float64) (string, error) {
	text, err := c.complete(ctx, tradePrompt(prediction, outcomes, outcomePrices))
	if err != nil {
		return "", fmt.Errorf("oracle: recommend trade: %w", err)
	}
	return text, nil
}

// FilterCandidates asks the model to narrow a serialized candidate list.
// kind names what the payload holds, e.g. "events" or "markets".
func (c *Client) FilterCandidates(ctx context.Context, kind, payload string) (string, error) {
	text, err := c.complete(ctx, filterPrompt(kind, payload))
	if err != nil {
		return "", fmt.Errorf("oracle: filter %s: %w", kind, err)
	}
	return text, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"model": c.embeddingModel,
		"input": texts,
	}

	respBody, err := c.doPost(ctx, "/embeddings", reqBody)
	if err != nil {
		return nil, fmt.Errorf("oracle: embed: %w", err)
	}

	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("oracle: decode embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("oracle: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("oracle: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// complete sends a single-user-message chat completion and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":       c.chatModel,
		"temperature": c.temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	respBody, err := c.doPost(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(respBody))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
