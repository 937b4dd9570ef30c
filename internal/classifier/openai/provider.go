// Package openai implements a vision provider on OpenAI-compatible chat
// completion endpoints.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	openaiapi "github.com/tjfontaine/feedfilter/internal/api/openai"
	"github.com/tjfontaine/feedfilter/internal/classifier"
	"github.com/tjfontaine/feedfilter/internal/config"
)

const (
	// ProviderType is the provider type for api.openai.com.
	ProviderType = "openai"
	// CompatibleProviderType is the provider type for self-hosted or
	// third-party endpoints speaking the same API; it requires base_url.
	CompatibleProviderType = "openai-compatible"
)

// DefaultModel is used when vision.model is empty.
const DefaultModel = "gpt-4o"

// Provider sends frames to an OpenAI vision model.
type Provider struct {
	name   string
	client *openaiapi.Client
	model  string
}

// New creates a new OpenAI provider.
func New(name, apiKey, model string, opts ...openaiapi.ClientOption) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		name:   name,
		client: openaiapi.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Complete sends the image followed by the prompt as one user turn, asking
// for a JSON object reply.
func (p *Provider) Complete(ctx context.Context, req *classifier.Request) (string, error) {
	temperature := float32(req.Temperature)
	resp, err := p.client.CreateChatCompletion(ctx, &openaiapi.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		Messages: []openaiapi.ChatCompletionMessage{{
			Role: "user",
			Content: openaiapi.MessageContent{Parts: []openaiapi.ContentPart{
				openaiapi.ImageDataPart(req.Image.MediaType, base64.StdEncoding.EncodeToString(req.Image.Data)),
				openaiapi.TextPart(req.Prompt),
			}},
		}},
		ResponseFormat: &openaiapi.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content.Text == "" {
		return "", errors.New("openai: response has no message content")
	}
	return resp.Choices[0].Message.Content.Text, nil
}

// RegisterProviderFactories registers the openai and openai-compatible
// vision providers.
func RegisterProviderFactories() {
	classifier.RegisterFactory(classifier.ProviderFactory{
		Type:           ProviderType,
		Description:    "OpenAI chat completions API (GPT-4o vision models)",
		Create:         createFactory(ProviderType),
		ValidateConfig: validateAPIKey,
	})
	classifier.RegisterFactory(classifier.ProviderFactory{
		Type:        CompatibleProviderType,
		Description: "OpenAI-compatible chat completions endpoint",
		Create:      createFactory(CompatibleProviderType),
		ValidateConfig: func(cfg config.VisionConfig) error {
			if cfg.BaseURL == "" {
				return errors.New("openai-compatible: vision.base_url is required")
			}
			return validateAPIKey(cfg)
		},
	})
}

func createFactory(name string) func(config.VisionConfig, *http.Client) (classifier.Provider, error) {
	return func(cfg config.VisionConfig, httpClient *http.Client) (classifier.Provider, error) {
		var opts []openaiapi.ClientOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaiapi.WithBaseURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, openaiapi.WithHTTPClient(httpClient))
		}
		return New(name, cfg.APIKey, cfg.Model, opts...), nil
	}
}

func validateAPIKey(cfg config.VisionConfig) error {
	if cfg.APIKey == "" {
		return errors.New("openai: vision.api_key is required")
	}
	return nil
}
