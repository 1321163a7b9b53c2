package provider

import (
	"errors"

	"github.com/attunehealth/attune/config"
	openai_provider "github.com/attunehealth/attune/provider/openai"
)

// Client identifies a provider backend.
type Client string

const (
	OpenAI Client = "openai"
)

// Provider bundles every external model collaborator the core consumes.
// Components depend on the narrow interfaces below, not on this bundle.
type Provider interface {
	Embedder
	CrossEncoder
	RiskClassifier
	Generator
}

// NewProvider creates a provider bundle from configuration.
func NewProvider(client Client, cfg config.OpenAIConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key not configured")
		}
		return openai_provider.NewClient(cfg), nil
	default:
		return nil, errors.New("unsupported provider")
	}
}
