// Package tokens measures prompt text and keeps classifier prompts within
// a token budget.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts the tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with a tiktoken encoding. Vision providers do not
// share a tokenizer, so cl100k_base serves as a close, stable proxy.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter returns a counter for the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text. Encoding failures fall back
// to the character estimate.
func (c *TiktokenCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return NewEstimator().Count(text)
	}
	return len(ids)
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// Count estimates the token count of text.
func (e *Estimator) Count(text string) int {
	if e.CharsPerToken <= 0 {
		return len(text)
	}
	return int(float64(len(text))/e.CharsPerToken + 0.5)
}
