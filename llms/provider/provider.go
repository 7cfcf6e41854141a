// Package provider builds the chat model selected by the llm configuration.
package provider

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/llms/ernie"
)

// New returns the chat model of the provider named by cfg.Type.
func New(cfg config.LLMConfig) (llms.Model, error) {
	p, ok := cfg.Providers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("provider: unknown llm type %q", cfg.Type)
	}
	return FromConfig(cfg.Type, p)
}

// FromConfig builds a chat model from one provider entry.
func FromConfig(name string, p config.ProviderConfig) (llms.Model, error) {
	switch p.API {
	case "", "openai":
		opts := []openai.Option{openai.WithToken(p.APIKey)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.ChatModel != "" {
			opts = append(opts, openai.WithModel(p.ChatModel))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return model, nil

	case "ernie":
		opts := []ernie.Option{ernie.WithAPIKey(p.APIKey)}
		if p.BaseURL != "" {
			opts = append(opts, ernie.WithBaseURL(p.BaseURL))
		}
		if p.ChatModel != "" {
			opts = append(opts, ernie.WithModel(ernie.ModelName(p.ChatModel)))
		}
		model, err := ernie.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return model, nil
	}
	return nil, fmt.Errorf("provider %s: unsupported api %q", name, p.API)
}
