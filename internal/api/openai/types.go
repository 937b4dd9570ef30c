// Package openai provides the wire types and HTTP client for OpenAI-compatible
// chat completion endpoints, limited to single-turn image requests.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/feedfilter/internal/domain"
)

// ProviderName identifies this API in canonical errors.
const ProviderName = "openai"

// ChatCompletionRequest represents an OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model          string                  `json:"model"`
	Messages       []ChatCompletionMessage `json:"messages"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	Temperature    *float32                `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat         `json:"response_format,omitempty"`
}

// ChatCompletionMessage represents a message in the request or response.
type ChatCompletionMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either plain text or a list of content parts.
// Responses always carry plain text.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// MarshalJSON encodes parts when present, text otherwise.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON handles both string and array content formats.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = MessageContent{}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = MessageContent{Text: str}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	*c = MessageContent{Text: b.String(), Parts: parts}
	return nil
}

// ContentPart is a single text or image part of a user message.
type ContentPart struct {
	Type     string    `json:"type"` // "text", "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, here always a base64 data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImageDataPart returns an image part carrying base64 data inline.
func ImageDataPart(mediaType, data string) ContentPart {
	return ContentPart{
		Type:     "image_url",
		ImageURL: &ImageURL{URL: "data:" + mediaType + ";base64," + data},
	}
}

// ResponseFormat specifies the format of the response.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionResponse represents an OpenAI chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse represents an OpenAI API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ToCanonical converts the OpenAI API error to a canonical domain error.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	return domain.NewAPIError(mapErrorType(e.Type, e.Code, status), e.Message).
		WithStatusCode(status).
		WithProvider(ProviderName)
}

// mapErrorType maps OpenAI error types and codes to domain error types.
func mapErrorType(errType, errCode string, status int) domain.ErrorType {
	switch errCode {
	case "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit
	case "invalid_api_key":
		return domain.ErrorTypeAuthentication
	case "model_not_found":
		return domain.ErrorTypeNotFound
	}

	switch errType {
	case "invalid_request_error":
		return domain.ErrorTypeInvalidRequest
	case "authentication_error":
		return domain.ErrorTypeAuthentication
	case "permission_denied":
		return domain.ErrorTypePermission
	case "not_found":
		return domain.ErrorTypeNotFound
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return domain.ErrorTypeRateLimit
	case "service_unavailable":
		return domain.ErrorTypeOverloaded
	case "server_error":
		return domain.ErrorTypeServer
	default:
		return domain.ErrorTypeFromStatus(status)
	}
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
