package registration

import (
	"github.com/tjfontaine/feedfilter/internal/classifier/anthropic"
	"github.com/tjfontaine/feedfilter/internal/classifier/openai"
)

// RegisterBuiltins registers the built-in vision providers. It replaces
// init-based side effects and is called from cmd/agent and tests before
// a provider is created.
func RegisterBuiltins() {
	anthropic.RegisterProviderFactory()
	openai.RegisterProviderFactories()
}
