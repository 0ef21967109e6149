package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Category     string    `json:"category"`
	UrgencyScore float64   `json:"urgency_score"`
	Embedding    []float64 `json:"embedding"`
}

// HTTPClassifier calls the model-serving collaborator at POST {baseURL}/classify.
type HTTPClassifier struct {
	endpoint string
}

// NewHTTPClassifier builds a client. An empty baseURL yields a classifier that
// always reports ErrClassifierUnavailable.
func NewHTTPClassifier(baseURL string) *HTTPClassifier {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return &HTTPClassifier{}
	}
	return &HTTPClassifier{endpoint: baseURL + "/classify"}
}

// Classify implements Classifier. The request timeout follows ctx's deadline.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	if c.endpoint == "" {
		return domain.Classification{}, ErrClassifierUnavailable
	}
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}

	agent := fiber.Post(c.endpoint)
	agent.JSON(classifyRequest{Text: text})
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	}

	var resp classifyResponse
	code, body, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return domain.Classification{}, fmt.Errorf("%w: %v", ErrClassifierFailed, errs[0])
	}
	if code != fiber.StatusOK {
		return domain.Classification{}, fmt.Errorf("%w: status %d: %s", ErrClassifierFailed, code, truncate(string(body), 200))
	}
	if strings.TrimSpace(resp.Category) == "" {
		return domain.Classification{}, fmt.Errorf("%w: empty category", ErrClassifierFailed)
	}

	return domain.Classification{
		Category:  domain.Category(resp.Category),
		Urgency:   clampUrgency(resp.UrgencyScore),
		Embedding: resp.Embedding,
		Source:    domain.ModelPrimary,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
