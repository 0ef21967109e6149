// Package classifier exposes ticket classification behind a uniform contract
// and keeps it available through a circuit breaker with a local fallback.
package classifier

import (
	"context"
	"errors"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

var (
	// ErrClassifierFailed wraps errors raised by a classification collaborator.
	ErrClassifierFailed = errors.New("classifier failed")
	// ErrClassifierUnavailable is returned when no primary endpoint is configured.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// Classifier turns ticket text into a category, urgency score and optional
// embedding. Implementations must honour ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, text string) (domain.Classification, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, text string) (domain.Classification, error) {
	return f(ctx, text)
}

func clampUrgency(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
