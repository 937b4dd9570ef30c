// Package anthropic implements a vision provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	anthropicapi "github.com/tjfontaine/feedfilter/internal/api/anthropic"
	"github.com/tjfontaine/feedfilter/internal/classifier"
	"github.com/tjfontaine/feedfilter/internal/config"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "anthropic"

// DefaultModel is used when vision.model is empty.
const DefaultModel = "claude-3-5-sonnet-20241022"

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider sends frames to a Claude model.
type Provider struct {
	client     *anthropicapi.Client
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Anthropic provider.
func New(apiKey, model string, opts ...ProviderOption) *Provider {
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return ProviderType
}

// Complete sends the image followed by the prompt as one user turn.
func (p *Provider) Complete(ctx context.Context, req *classifier.Request) (string, error) {
	temperature := float32(req.Temperature)
	resp, err := p.client.CreateMessage(ctx, &anthropicapi.MessagesRequest{
		Model:       p.model,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		Messages: []anthropicapi.Message{{
			Role: "user",
			Content: []anthropicapi.ContentPart{
				anthropicapi.ImagePart(req.Image.MediaType, base64.StdEncoding.EncodeToString(req.Image.Data)),
				anthropicapi.TextPart(req.Prompt),
			},
		}},
	})
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("anthropic: response has no text content")
	}
	return text, nil
}

// RegisterProviderFactory registers the anthropic vision provider.
func RegisterProviderFactory() {
	classifier.RegisterFactory(classifier.ProviderFactory{
		Type:           ProviderType,
		Description:    "Anthropic Messages API (Claude vision models)",
		Create:         CreateFromConfig,
		ValidateConfig: ValidateConfig,
	})
}

// CreateFromConfig creates a new Anthropic provider from configuration.
func CreateFromConfig(cfg config.VisionConfig, httpClient *http.Client) (classifier.Provider, error) {
	var opts []ProviderOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, WithHTTPClient(httpClient))
	}
	return New(cfg.APIKey, cfg.Model, opts...), nil
}

// ValidateConfig validates the provider configuration.
func ValidateConfig(cfg config.VisionConfig) error {
	if cfg.APIKey == "" {
		return errors.New("anthropic: vision.api_key is required")
	}
	return nil
}
