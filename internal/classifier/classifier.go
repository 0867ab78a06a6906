// Package classifier rates incoming messages for urgency.
//
// A Classifier returns a raw Classification; validation, fallback and
// normalisation happen in the ingestion pipeline, never here.
package classifier

import (
	"context"

	"github.com/mtlprog/deepflow/internal/domain"
)

// Request is what a classifier sees of a message.
type Request struct {
	Sender  string
	Source  domain.Source
	Content string
	State   domain.FocusState
}

// Classifier rates one message.
type Classifier interface {
	Classify(ctx context.Context, req Request) (domain.Classification, error)
}

// Static classifies every message with the safe default. It is used when no
// LLM endpoint is configured.
type Static struct{}

// Classify returns the fallback classification for req.
func (Static) Classify(_ context.Context, req Request) (domain.Classification, error) {
	return domain.FallbackClassification(req.Content), nil
}
