// Package openai classifies messages through any backend that speaks the
// OpenAI chat completions protocol: OpenAI itself, Azure OpenAI, Ollama and
// Gemini's compatibility endpoint.
package openai

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/retry"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// Client is a classifier.Classifier backed by a chat completions endpoint.
type Client struct {
	api          *openai.Client
	logger       zerolog.Logger
	providerName string
	model        string
	systemPrompt string
	maxTokens    int
	bodyChars    int
	timeout      time.Duration
	retry        retry.Policy
}

// NewClient builds the client for cfg.AIProvider, which must be one of
// openai, azure, ollama or gemini. Missing credentials are a
// *classifier.ConfigError.
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	client := &Client{
		providerName: cfg.AIProvider,
		systemPrompt: classifier.SystemPrompt,
		bodyChars:    cfg.BodyMaxChars,
		timeout:      cfg.Timeout(),
		retry:        retry.Default(),
	}

	var apiConfig openai.ClientConfig
	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, classifier.NewConfigError("OPENAI_API_KEY is not set")
		}
		apiConfig = openai.DefaultConfig(cfg.OpenAIKey)
		if cfg.OpenAIBaseURL != "" {
			apiConfig.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
		}
		client.model = cfg.OpenAIModel
		client.maxTokens = cfg.OpenAIMaxTokens

	case config.ProviderAzure:
		if cfg.AzureOpenAIKey == "" || cfg.AzureOpenAIEndpoint == "" || cfg.AzureOpenAIDeployment == "" {
			return nil, classifier.NewConfigError("AZURE_OPENAI_KEY, AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT must all be set")
		}
		apiConfig = openai.DefaultAzureConfig(cfg.AzureOpenAIKey, cfg.AzureOpenAIEndpoint)
		client.model = cfg.AzureOpenAIDeployment
		client.maxTokens = cfg.OpenAIMaxTokens

	case config.ProviderOllama:
		if cfg.OllamaBaseURL == "" {
			return nil, classifier.NewConfigError("OLLAMA_BASE_URL is not set")
		}
		// Ollama ignores the key but the client insists on one
		apiConfig = openai.DefaultConfig("ollama")
		apiConfig.BaseURL = strings.TrimRight(cfg.OllamaBaseURL, "/") + "/v1"
		client.model = cfg.OllamaModel
		client.maxTokens = cfg.OllamaMaxTokens
		client.systemPrompt = classifier.SmallModelPrompt

	case config.ProviderGemini:
		if cfg.GeminiKey == "" {
			return nil, classifier.NewConfigError("GEMINI_API_KEY is not set")
		}
		apiConfig = openai.DefaultConfig(cfg.GeminiKey)
		apiConfig.BaseURL = strings.TrimRight(cfg.GeminiBaseURL, "/")
		client.model = cfg.GeminiModel
		client.maxTokens = cfg.GeminiMaxTokens

	default:
		return nil, classifier.NewConfigError("provider %q is not served by the chat completions client", cfg.AIProvider)
	}

	if client.model == "" {
		return nil, classifier.NewConfigError("no model configured for provider %q", cfg.AIProvider)
	}
	if client.bodyChars <= 0 {
		client.bodyChars = classifier.DefaultBodyChars
	}

	client.api = openai.NewClientWithConfig(apiConfig)
	client.logger = logger.With().Str("component", "openai").Str("provider", client.providerName).Logger()
	client.logger.Info().Str("model", client.model).Int("max_tokens", client.maxTokens).Msg("Classifier backend ready")

	return client, nil
}

// Name returns the backend name recorded with each result.
func (c *Client) Name() string {
	return c.providerName
}

// Model returns the model or deployment name in use.
func (c *Client) Model() string {
	return c.model
}

// Classify sends one message for classification. Transport failures, 429s
// and 5xx responses are retried; anything else fails at once. The reply is
// validated by classifier.ParseResponse and never retried.
func (c *Client) Classify(ctx context.Context, subject, body string) (classifier.Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: classifier.UserMessage(subject, classifier.PrepareBody(body, c.bodyChars))},
		},
		MaxTokens: c.maxTokens,
		// zero is dropped from the request body, the smallest float is not
		Temperature:    math.SmallestNonzeroFloat32,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var content string
	var finishReason openai.FinishReason
	attempt := 0
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			if isTransient(err) {
				c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transient backend error, retrying")
				return retry.Transient(err)
			}
			return err
		}

		content, finishReason = "", ""
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
			finishReason = resp.Choices[0].FinishReason
		}
		return nil
	})
	if err != nil {
		return classifier.Result{}, &classifier.ProviderError{Provider: c.providerName, Err: err}
	}

	if finishReason == openai.FinishReasonLength {
		c.logger.Warn().Int("max_tokens", c.maxTokens).Msg("Response hit the token budget")
	}

	return classifier.ParseResponse(content, c.providerName, c.model)
}

func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retry.IsTransientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode != 0 {
			return retry.IsTransientStatus(reqErr.HTTPStatusCode)
		}
		return retry.IsNetworkError(reqErr.Err)
	}
	return retry.IsNetworkError(err)
}
