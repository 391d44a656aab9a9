// Package nlu provides the intent classification client.
//
// Classification goes to a remote NLU service over HTTP with a tight timeout;
// on failure the client falls back to keyword heuristics so flows can still
// start when the service is down.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout is the classify call budget. The reply path cannot afford
// to wait longer; past it the keyword fallback takes over.
const DefaultTimeout = 500 * time.Millisecond

// Entity is one extracted slot value.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Classification is the result of classifying one utterance.
type Classification struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   []Entity `json:"entities"`
	Language   string   `json:"language"`
	Fallback   bool     `json:"-"` // true when produced by the keyword heuristic
}

// EntityMap flattens entities to a type -> value map (last value wins).
func (c *Classification) EntityMap() map[string]string {
	if len(c.Entities) == 0 {
		return nil
	}
	m := make(map[string]string, len(c.Entities))
	for _, e := range c.Entities {
		m[e.Type] = e.Value
	}
	return m
}

// Classifier classifies utterances into intents.
type Classifier interface {
	Classify(ctx context.Context, text, language string) (*Classification, error)
}

// Config represents NLU client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP NLU client with keyword fallback.
type Client struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	fallback *KeywordMatcher
}

// NewClient creates a new NLU client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		fallback: NewKeywordMatcher(),
	}
}

// Classify sends the text to POST /classify. Any transport or decode failure
// degrades to the keyword heuristic rather than an error: routing must keep
// working with a guess.
func (c *Client) Classify(ctx context.Context, text, language string) (*Classification, error) {
	result, err := c.classifyRemote(ctx, text, language)
	if err != nil {
		slog.Warn("nlu: remote classify failed, using keyword fallback", "error", err)
		return c.fallback.Classify(text), nil
	}
	return result, nil
}

func (c *Client) classifyRemote(ctx context.Context, text, language string) (*Classification, error) {
	body := map[string]string{"text": text}
	if language != "" {
		body["language"] = language
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classify status %d", resp.StatusCode)
	}

	var result Classification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode classify response: %w", err)
	}

	slog.Debug("nlu: classified",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"language", result.Language,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

var _ Classifier = (*Client)(nil)
