// Package anthropic classifies messages with the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/retry"

	"github.com/rs/zerolog"
)

// ProviderName is the backend name recorded with each result.
const ProviderName = "anthropic"

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 500
)

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client is a classifier.Classifier backed by the Messages API.
type Client struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	bodyChars int
	timeout   time.Duration
	retry     retry.Policy
	http      *http.Client
	logger    zerolog.Logger
}

// NewClient validates the Anthropic settings in cfg and returns a client.
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	if cfg.AnthropicKey == "" {
		return nil, classifier.NewConfigError("ANTHROPIC_API_KEY is not set")
	}
	if cfg.AnthropicModel == "" {
		return nil, classifier.NewConfigError("ANTHROPIC_MODEL is not set")
	}

	baseURL := strings.TrimRight(cfg.AnthropicBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	maxTokens := cfg.AnthropicMaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	bodyChars := cfg.BodyMaxChars
	if bodyChars <= 0 {
		bodyChars = classifier.DefaultBodyChars
	}

	c := &Client{
		apiKey:    cfg.AnthropicKey,
		baseURL:   baseURL,
		model:     cfg.AnthropicModel,
		maxTokens: maxTokens,
		bodyChars: bodyChars,
		timeout:   cfg.Timeout(),
		retry:     retry.Default(),
		http:      &http.Client{},
		logger:    logger.With().Str("component", "anthropic").Logger(),
	}
	c.logger.Info().Str("model", c.model).Int("max_tokens", c.maxTokens).Msg("Classifier backend ready")
	return c, nil
}

// Name returns the backend name.
func (c *Client) Name() string { return ProviderName }

// Model returns the model in use.
func (c *Client) Model() string { return c.model }

// Classify sends one message for classification. Transport failures, 429s
// and 5xx replies are retried; the text reply is validated by
// classifier.ParseResponse and never retried.
func (c *Client) Classify(ctx context.Context, subject, body string) (classifier.Result, error) {
	reqBody := apiRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		System:      classifier.SystemPrompt,
		Messages: []apiMessage{{
			Role:    "user",
			Content: classifier.UserMessage(subject, classifier.PrepareBody(body, c.bodyChars)),
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return classifier.Result{}, &classifier.ProviderError{Provider: ProviderName, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var resp *apiResponse
	attempt := 0
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		r, err := c.callAPI(ctx, payload)
		if err != nil {
			if transient(err) {
				c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transient backend error, retrying")
				return retry.Transient(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return classifier.Result{}, &classifier.ProviderError{Provider: ProviderName, Err: err}
	}

	var textParts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	if resp.StopReason == "max_tokens" {
		c.logger.Warn().Int("max_tokens", c.maxTokens).Msg("Response hit the token budget")
	}

	return classifier.ParseResponse(strings.Join(textParts, ""), ProviderName, c.model)
}

// callAPI makes a single request to the Messages API under the per-call
// timeout.
func (c *Client) callAPI(ctx context.Context, payload []byte) (*apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Messages API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			statusErr.Type = apiErr.Error.Type
			statusErr.Message = apiErr.Error.Message
		}
		return nil, statusErr
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}

func transient(err error) bool {
	if statusErr, ok := err.(*StatusError); ok {
		return retry.IsTransientStatus(statusErr.StatusCode)
	}
	return retry.IsNetworkError(err)
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	System      string       `json:"system"`
	Messages    []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
