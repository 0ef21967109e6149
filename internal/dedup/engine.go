// Package dedup groups near-identical tickets seen within a sliding window and
// promotes large groups to master incidents.
//
// Clusters are connected components of the similarity graph over the window:
// a ticket joins every cluster it is directly similar to, so membership grows
// by chaining (A~B~C groups A with C even when A and C are not similar).
package dedup

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

// Config tunes the engine. Zero values take the documented defaults.
type Config struct {
	Window              time.Duration
	SimilarityThreshold float64
	StormThreshold      int
	IncidentIdle        time.Duration
	Retention           time.Duration
	Now                 func() time.Time
}

// Result is the outcome of Register.
type Result struct {
	Grouped     bool
	IncidentID  string
	Promoted    bool
	Absorbed    []string
	ClusterSize int
	Similar     int
}

type entry struct {
	ticketID string
	vec      []float64
	seenAt   time.Time
	cluster  *cluster
}

type cluster struct {
	members  map[*entry]struct{}
	incident *domain.MasterIncident
}

// Engine is safe for concurrent use: lookups share a read lock, inserts and
// evictions are serialized.
type Engine struct {
	window       time.Duration
	threshold    float64
	storm        int
	incidentIdle time.Duration
	retention    time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	entries   []*entry
	byDim     map[int]map[*entry]struct{}
	byTicket  map[string]*entry
	incidents map[string]*domain.MasterIncident
	order     []string
	memberOf  map[string]string
}

// NewEngine builds an empty engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.9
	}
	if cfg.StormThreshold <= 0 {
		cfg.StormThreshold = 10
	}
	if cfg.IncidentIdle <= 0 {
		cfg.IncidentIdle = cfg.Window
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		window:       cfg.Window,
		threshold:    cfg.SimilarityThreshold,
		storm:        cfg.StormThreshold,
		incidentIdle: cfg.IncidentIdle,
		retention:    cfg.Retention,
		now:          cfg.Now,
		byDim:        make(map[int]map[*entry]struct{}),
		byTicket:     make(map[string]*entry),
		incidents:    make(map[string]*domain.MasterIncident),
		memberOf:     make(map[string]string),
	}
}

// Register adds ticket to the window and reports whether it belongs to a
// master incident. Tickets without an embedding are never grouped.
func (e *Engine) Register(t *domain.Ticket) (Result, error) {
	if t == nil || t.ID == "" {
		return Result{}, errors.New("ticket id required")
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.expireLocked(now)

	if id, ok := e.memberOf[t.ID]; ok {
		return Result{Grouped: true, IncidentID: id}, nil
	}
	if existing, ok := e.byTicket[t.ID]; ok {
		return Result{ClusterSize: len(existing.cluster.members)}, nil
	}

	unit := normalize(t.Embedding)
	if unit == nil {
		return Result{}, nil
	}

	ent := &entry{ticketID: t.ID, vec: unit, seenAt: now}
	touched := make(map[*cluster]struct{})
	similar := 0
	for other := range e.byDim[len(unit)] {
		if dot(unit, other.vec) > e.threshold {
			similar++
			touched[other.cluster] = struct{}{}
		}
	}

	cl := e.mergeLocked(touched)
	ent.cluster = cl
	cl.members[ent] = struct{}{}
	e.insertLocked(ent)

	res := Result{ClusterSize: len(cl.members), Similar: similar}

	if inc := openIncident(cl); inc != nil {
		e.absorbLocked(inc, ent.ticketID, now)
		res.Grouped = true
		res.IncidentID = inc.ID
		res.Absorbed = []string{ent.ticketID}
		return res, nil
	}

	free := e.unaffiliatedLocked(cl)
	if len(free) > e.storm {
		inc := e.promoteLocked(cl, free, t.CategoryOrEmpty(), now)
		res.Grouped = true
		res.Promoted = true
		res.IncidentID = inc.ID
		res.Absorbed = append([]string(nil), inc.MemberIDs...)
	}
	return res, nil
}

// mergeLocked unions the touched clusters into the largest one and settles on
// a single open incident, the oldest among them.
func (e *Engine) mergeLocked(touched map[*cluster]struct{}) *cluster {
	if len(touched) == 0 {
		return &cluster{members: make(map[*entry]struct{})}
	}
	all := make([]*cluster, 0, len(touched))
	for c := range touched {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return len(all[i].members) > len(all[j].members) })

	target := all[0]
	var incident *domain.MasterIncident
	for _, c := range all {
		if inc := openIncident(c); inc != nil {
			if incident == nil || inc.CreatedAt.Before(incident.CreatedAt) ||
				(inc.CreatedAt.Equal(incident.CreatedAt) && inc.ID < incident.ID) {
				incident = inc
			}
		}
	}
	for _, c := range all[1:] {
		for m := range c.members {
			m.cluster = target
			target.members[m] = struct{}{}
		}
		c.members = nil
	}
	target.incident = incident
	return target
}

func (e *Engine) insertLocked(ent *entry) {
	e.entries = append(e.entries, ent)
	bucket, ok := e.byDim[len(ent.vec)]
	if !ok {
		bucket = make(map[*entry]struct{})
		e.byDim[len(ent.vec)] = bucket
	}
	bucket[ent] = struct{}{}
	e.byTicket[ent.ticketID] = ent
}

func (e *Engine) unaffiliatedLocked(cl *cluster) []*entry {
	free := make([]*entry, 0, len(cl.members))
	for m := range cl.members {
		if _, taken := e.memberOf[m.ticketID]; !taken {
			free = append(free, m)
		}
	}
	return free
}

func (e *Engine) promoteLocked(cl *cluster, members []*entry, category domain.Category, now time.Time) *domain.MasterIncident {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].seenAt.Equal(members[j].seenAt) {
			return members[i].seenAt.Before(members[j].seenAt)
		}
		return members[i].ticketID < members[j].ticketID
	})

	centroid := make([]float64, len(members[0].vec))
	for _, m := range members {
		for i, v := range m.vec {
			centroid[i] += v
		}
	}

	inc := &domain.MasterIncident{
		ID:             uuid.NewString(),
		Category:       category,
		Representative: normalize(centroid),
		CreatedAt:      now,
		LastActivity:   now,
		MemberIDs:      make([]string, 0, len(members)),
	}
	for _, m := range members {
		inc.MemberIDs = append(inc.MemberIDs, m.ticketID)
		e.memberOf[m.ticketID] = inc.ID
	}
	inc.SuppressedAlerts = len(inc.MemberIDs)

	e.incidents[inc.ID] = inc
	e.order = append(e.order, inc.ID)
	cl.incident = inc
	return inc
}

func (e *Engine) absorbLocked(inc *domain.MasterIncident, ticketID string, now time.Time) {
	inc.MemberIDs = append(inc.MemberIDs, ticketID)
	inc.LastActivity = now
	inc.SuppressedAlerts++
	e.memberOf[ticketID] = inc.ID
}

// expireLocked evicts entries older than the window, closes idle incidents and
// forgets closed incidents past retention. Incident membership survives
// eviction; clusters without an incident are re-split so they stay connected
// components of the current window.
func (e *Engine) expireLocked(now time.Time) {
	evicted := 0
	var shrunk map[*cluster]struct{}
	for _, ent := range e.entries {
		if now.Sub(ent.seenAt) <= e.window {
			break
		}
		delete(e.byTicket, ent.ticketID)
		if bucket := e.byDim[len(ent.vec)]; bucket != nil {
			delete(bucket, ent)
			if len(bucket) == 0 {
				delete(e.byDim, len(ent.vec))
			}
		}
		if ent.cluster != nil {
			delete(ent.cluster.members, ent)
			if ent.cluster.incident == nil {
				if shrunk == nil {
					shrunk = make(map[*cluster]struct{})
				}
				shrunk[ent.cluster] = struct{}{}
			}
		}
		evicted++
	}
	if evicted > 0 {
		for i := 0; i < evicted; i++ {
			e.entries[i] = nil
		}
		e.entries = e.entries[evicted:]
	}
	for cl := range shrunk {
		e.splitLocked(cl)
	}

	kept := e.order[:0]
	for _, id := range e.order {
		inc := e.incidents[id]
		if !inc.Closed && now.Sub(inc.LastActivity) >= e.incidentIdle {
			inc.Closed = true
		}
		if inc.Closed && now.Sub(inc.LastActivity) >= e.retention {
			for _, member := range inc.MemberIDs {
				delete(e.memberOf, member)
			}
			delete(e.incidents, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

// splitLocked recomputes the connected components of cl's surviving members.
// The first component keeps cl; every other one moves to a new cluster.
func (e *Engine) splitLocked(cl *cluster) {
	remaining := make([]*entry, 0, len(cl.members))
	for m := range cl.members {
		remaining = append(remaining, m)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ticketID < remaining[j].ticketID })

	seen := make(map[*entry]bool, len(remaining))
	var components [][]*entry
	for _, start := range remaining {
		if seen[start] {
			continue
		}
		seen[start] = true
		component := []*entry{start}
		for i := 0; i < len(component); i++ {
			cur := component[i]
			for _, other := range remaining {
				if seen[other] || len(other.vec) != len(cur.vec) {
					continue
				}
				if dot(cur.vec, other.vec) > e.threshold {
					seen[other] = true
					component = append(component, other)
				}
			}
		}
		components = append(components, component)
	}

	if len(components) < 2 {
		return
	}
	for _, component := range components[1:] {
		split := &cluster{members: make(map[*entry]struct{}, len(component))}
		for _, m := range component {
			delete(cl.members, m)
			m.cluster = split
			split.members[m] = struct{}{}
		}
	}
}

func openIncident(cl *cluster) *domain.MasterIncident {
	if cl == nil || cl.incident == nil || cl.incident.Closed {
		return nil
	}
	return cl.incident
}

// Incidents returns copies of every retained incident, oldest first.
func (e *Engine) Incidents() []domain.MasterIncident {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.MasterIncident, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.snapshotLocked(e.incidents[id], now))
	}
	return out
}

// Incident returns a copy of one incident.
func (e *Engine) Incident(id string) (domain.MasterIncident, bool) {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	inc, ok := e.incidents[id]
	if !ok {
		return domain.MasterIncident{}, false
	}
	return e.snapshotLocked(inc, now), true
}

// IncidentFor reports the incident a ticket belongs to.
func (e *Engine) IncidentFor(ticketID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.memberOf[ticketID]
	return id, ok
}

// WindowSize is the number of tickets currently considered for similarity.
func (e *Engine) WindowSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

func (e *Engine) snapshotLocked(inc *domain.MasterIncident, now time.Time) domain.MasterIncident {
	out := inc.Clone()
	if !out.Closed && now.Sub(out.LastActivity) >= e.incidentIdle {
		out.Closed = true
	}
	return out
}
