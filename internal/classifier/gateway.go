package classifier

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-orchestrator/internal/breaker"
	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// Gateway routes classification through the breaker: primary when admitted,
// fallback when the breaker is open or the primary fails. Callers never see
// primary failures.
type Gateway struct {
	primary  Classifier
	fallback Classifier
	breaker  *breaker.Breaker
	logger   *zap.Logger
}

// NewGateway wires the two classifiers behind b.
func NewGateway(primary, fallback Classifier, b *breaker.Breaker, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		breaker:  b,
		logger:   logger.With(zap.String("component", "classifier_gateway")),
	}
}

// Breaker exposes the guarding breaker for stats.
func (g *Gateway) Breaker() *breaker.Breaker {
	return g.breaker
}

// Classify implements Classifier.
func (g *Gateway) Classify(ctx context.Context, text string) (domain.Classification, error) {
	result, err := breaker.Call(ctx, g.breaker, func(ctx context.Context) (domain.Classification, error) {
		return g.primary.Classify(ctx, text)
	})
	if err == nil {
		result.Source = domain.ModelPrimary
		result.Urgency = clampUrgency(result.Urgency)
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Classification{}, ctxErr
	}
	if !errors.Is(err, breaker.ErrOpen) {
		g.logger.Debug("primary classifier failed; using fallback", zap.Error(err))
	}

	result, err = g.fallback.Classify(ctx, text)
	if err != nil {
		return domain.Classification{}, err
	}
	result.Source = domain.ModelFallback
	result.Urgency = clampUrgency(result.Urgency)
	return result, nil
}
