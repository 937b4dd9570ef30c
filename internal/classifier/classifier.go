// Package classifier asks a vision model whether a frame shows a trigger.
//
// The classifier is a boundary adapter: provider failures and malformed
// replies never escape Classify, they come back as non-detections that
// carry the error text.
package classifier

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/tjfontaine/feedfilter/internal/domain"
	"github.com/tjfontaine/feedfilter/internal/media"
	"github.com/tjfontaine/feedfilter/internal/tokens"
)

// Defaults used when an Options field is left zero.
const (
	DefaultMaxTokens           = 300
	DefaultClosedSetConfidence = 0.85
	DefaultOpenSetConfidence   = 0.7
)

// openSetFallbackName names an open-set detection the model left unnamed.
const openSetFallbackName = "unwanted content"

// Request is one vision call.
type Request struct {
	Image       media.Image
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider sends a Request to a vision model and returns its raw text reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (string, error)
}

// Options configures a Classifier.
type Options struct {
	MaxTokens           int
	Temperature         float64
	ClosedSetConfidence float64
	OpenSetConfidence   float64
	// Budget caps the closed-set prompt; nil disables truncation.
	Budget *tokens.Budget
	Logger *slog.Logger
}

// Classifier turns frames into detection results through a Provider.
// It holds no per-track state and is safe for concurrent use.
type Classifier struct {
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// New creates a classifier over provider.
func New(provider Provider, opts Options) *Classifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.ClosedSetConfidence <= 0 {
		opts.ClosedSetConfidence = DefaultClosedSetConfidence
	}
	if opts.OpenSetConfidence <= 0 {
		opts.OpenSetConfidence = DefaultOpenSetConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, opts: opts, logger: logger}
}

// ProviderName returns the name of the underlying provider.
func (c *Classifier) ProviderName() string {
	return c.provider.Name()
}

// Classify calls the provider exactly once. An empty trigger list selects
// open-set screening. The returned result never has VideoEnded set.
func (c *Classifier) Classify(ctx context.Context, img media.Image, triggers []string) domain.DetectionResult {
	prompt, triggers := c.prompt(triggers)

	text, err := c.provider.Complete(ctx, &Request{
		Image:       img,
		Prompt:      prompt,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		c.logger.Warn("vision request failed",
			slog.String("provider", c.provider.Name()),
			slog.String("error", err.Error()),
			slog.Bool("retryable", IsRetryable(err)),
		)
		return domain.FailedDetection(err)
	}

	reply, err := ParseReply(text)
	if err != nil {
		c.logger.Warn("discarding classifier reply",
			slog.String("provider", c.provider.Name()),
			slog.String("error", err.Error()),
		)
		return domain.FailedDetection(err)
	}

	return c.verdict(reply, triggers)
}

func (c *Classifier) prompt(triggers []string) (string, []string) {
	if ModeFor(triggers) == ModeOpenSet {
		return OpenSetPrompt(c.opts.OpenSetConfidence), nil
	}

	if c.opts.Budget == nil {
		return ClosedSetPrompt(triggers, c.opts.ClosedSetConfidence), triggers
	}

	render := func(ts []string) string { return ClosedSetPrompt(ts, c.opts.ClosedSetConfidence) }
	kept, n := c.opts.Budget.Fit(triggers, render)
	if len(kept) < len(triggers) {
		c.logger.Warn("trigger list truncated to fit prompt budget",
			slog.Int("triggers", len(triggers)),
			slog.Int("kept", len(kept)),
			slog.Int("prompt_tokens", n),
		)
	}
	return render(kept), kept
}

// verdict applies the contract a reply must meet to count as a detection.
func (c *Classifier) verdict(r Reply, triggers []string) domain.DetectionResult {
	result := domain.DetectionResult{
		TriggerDetected: r.TriggerDetected,
		TriggerName:     r.TriggerName,
		Confidence:      r.Confidence,
		Description:     r.Description,
	}
	if !r.TriggerDetected {
		result.TriggerName = ""
		return result
	}

	floor := c.opts.OpenSetConfidence
	if ModeFor(triggers) == ModeClosedSet {
		floor = c.opts.ClosedSetConfidence
		if !slices.Contains(triggers, r.TriggerName) {
			c.logger.Warn("ignoring detection outside the trigger set",
				slog.String("trigger", r.TriggerName),
			)
			return downgrade(result)
		}
	} else if result.TriggerName == "" {
		result.TriggerName = openSetFallbackName
	}

	if r.Confidence < floor {
		c.logger.Debug("ignoring low-confidence detection",
			slog.String("trigger", r.TriggerName),
			slog.Float64("confidence", r.Confidence),
		)
		return downgrade(result)
	}
	return result
}

func downgrade(r domain.DetectionResult) domain.DetectionResult {
	r.TriggerDetected = false
	r.TriggerName = ""
	return r
}

// IsRetryable reports whether err, as produced by a Provider, is transient.
func IsRetryable(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}
