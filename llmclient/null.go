package llmclient

import (
	"context"
	"fmt"

	"github.com/ledgerflow/ledgercore/external"
)

// NullProvider is the external.LLMProvider used when no LLM is
// configured. It always fails so the classifier falls through to local
// scoring rather than needing a
// nil check at every call site.
type NullProvider struct{}

func (NullProvider) Classify(ctx context.Context, prompt string) (external.LLMClassification, error) {
	return external.LLMClassification{}, fmt.Errorf("llmclient: no LLM provider configured")
}
