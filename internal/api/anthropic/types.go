// Package anthropic provides the wire types and HTTP client for the
// Anthropic Messages API, limited to single-turn image requests.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/feedfilter/internal/domain"
)

// ProviderName identifies this API in canonical errors.
const ProviderName = "anthropic"

// MessagesRequest represents an Anthropic Messages API request.
type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
}

// Message represents a message in the conversation.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a single content part in a message.
type ContentPart struct {
	Type string `json:"type"` // "text", "image"
	Text string `json:"text,omitempty"`

	// For image blocks
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource represents an image source.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart returns a base64 image content part.
func ImagePart(mediaType, data string) ContentPart {
	return ContentPart{
		Type:   "image",
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data},
	}
}

// MessagesResponse represents an Anthropic Messages API response.
type MessagesResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []ResponseContent `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
	Usage      MessagesUsage     `json:"usage"`
}

// Text returns the concatenated text blocks of the response.
func (r *MessagesResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ResponseContent represents content in a response.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesUsage represents token usage in the response.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse represents an Anthropic API error.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Type + ": " + e.Message
}

// ToCanonical converts the Anthropic error to a canonical domain error.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	var errType domain.ErrorType
	switch e.Type {
	case "invalid_request_error":
		errType = domain.ErrorTypeInvalidRequest
	case "authentication_error":
		errType = domain.ErrorTypeAuthentication
	case "permission_error":
		errType = domain.ErrorTypePermission
	case "not_found_error":
		errType = domain.ErrorTypeNotFound
	case "rate_limit_error":
		errType = domain.ErrorTypeRateLimit
	case "overloaded_error":
		errType = domain.ErrorTypeOverloaded
	case "api_error":
		errType = domain.ErrorTypeServer
	default:
		errType = domain.ErrorTypeFromStatus(status)
	}
	return domain.NewAPIError(errType, e.Message).WithStatusCode(status).WithProvider(ProviderName)
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
