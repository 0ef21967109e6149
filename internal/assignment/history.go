package assignment

import "github.com/spec-kit/ticket-orchestrator/internal/domain"

// RoutingStats aggregates the retained routing decisions.
type RoutingStats struct {
	TotalRouted int                     `json:"total_routed"`
	Unrouted    int                     `json:"unrouted"`
	ByCategory  map[domain.Category]int `json:"by_category"`
	ByAgent     map[string]int          `json:"by_agent"`
	AvgScore    float64                 `json:"avg_score"`
}

// history is a bounded ring of decisions. Callers hold the engine lock.
type history struct {
	buf   []domain.RoutingDecision
	next  int
	full  bool
	limit int
}

func newHistory(limit int) *history {
	return &history{buf: make([]domain.RoutingDecision, 0, limit), limit: limit}
}

func (h *history) add(d domain.RoutingDecision) {
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, d)
		return
	}
	h.buf[h.next] = d
	h.next = (h.next + 1) % h.limit
	h.full = true
}

func (h *history) ordered() []domain.RoutingDecision {
	out := make([]domain.RoutingDecision, 0, len(h.buf))
	if !h.full {
		return append(out, h.buf...)
	}
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

func (h *history) recent(n int) []domain.RoutingDecision {
	all := h.ordered()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

func (h *history) stats() RoutingStats {
	out := RoutingStats{
		ByCategory: make(map[domain.Category]int),
		ByAgent:    make(map[string]int),
	}
	var scoreSum float64
	for _, d := range h.buf {
		out.TotalRouted++
		out.ByCategory[d.Category]++
		if d.AgentID == "" {
			out.Unrouted++
			continue
		}
		out.ByAgent[d.AgentName]++
		scoreSum += d.Score
	}
	if routed := out.TotalRouted - out.Unrouted; routed > 0 {
		out.AvgScore = scoreSum / float64(routed)
	}
	return out
}
