// Package provider selects the classification backend named by the
// configuration.
package provider

import (
	"strings"

	"jobmail/internal/anthropic"
	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/openai"

	"github.com/rs/zerolog"
)

// New returns the classifier for cfg.AIProvider. An unknown name or missing
// credentials yield a *classifier.ConfigError.
func New(cfg *config.Config, logger zerolog.Logger) (classifier.Classifier, error) {
	switch cfg.AIProvider {
	case config.ProviderOpenAI, config.ProviderAzure, config.ProviderOllama, config.ProviderGemini:
		client, err := openai.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderAnthropic:
		client, err := anthropic.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderFake:
		logger.Warn().Msg("Using the keyword-rule fake classifier")
		return classifier.NewFake(), nil
	default:
		return nil, classifier.NewConfigError("unknown AI_PROVIDER %q, supported: %s",
			cfg.AIProvider, strings.Join(config.Providers(), ", "))
	}
}
