package classifier

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

var (
	billingKeywords = []string{"invoice", "billing", "charge", "refund"}
	legalKeywords   = []string{"legal", "gdpr", "tos", "privacy", "contract"}
	urgentKeywords  = []string{"urgent", "asap", "immediately", "outage", "down", "critical", "emergency", "broken", "cannot", "can't"}
)

const baseUrgency = 0.3

// KeywordClassifier is the lightweight fallback. It never fails and produces a
// hashed bag-of-words embedding so storm detection keeps working while the
// primary is unavailable.
type KeywordClassifier struct {
	dim int
}

// NewKeywordClassifier builds a fallback producing embeddings of dim buckets.
func NewKeywordClassifier(dim int) *KeywordClassifier {
	if dim <= 0 {
		dim = 256
	}
	return &KeywordClassifier{dim: dim}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (domain.Classification, error) {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	return domain.Classification{
		Category:  keywordCategory(lower),
		Urgency:   keywordUrgency(lower),
		Embedding: hashedEmbedding(tokens, k.dim),
		Source:    domain.ModelFallback,
	}, nil
}

func keywordCategory(lower string) domain.Category {
	if containsAny(lower, billingKeywords) {
		return domain.CategoryBilling
	}
	if containsAny(lower, legalKeywords) {
		return domain.CategoryLegal
	}
	return domain.CategoryTechnical
}

func keywordUrgency(lower string) float64 {
	score := baseUrgency
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			score += 0.15
		}
	}
	if strings.Contains(lower, "!") {
		score += 0.05
	}
	return clampUrgency(score)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hashedEmbedding applies signed feature hashing and L2-normalises the result.
func hashedEmbedding(tokens []string, dim int) []float64 {
	vec := make([]float64, dim)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
