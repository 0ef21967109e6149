package dedup

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(c *clock, storm int) *Engine {
	return NewEngine(Config{
		Window:              5 * time.Minute,
		SimilarityThreshold: 0.9,
		StormThreshold:      storm,
		Now:                 c.Now,
	})
}

func angle(deg float64) []float64 {
	rad := deg * math.Pi / 180
	return []float64{math.Cos(rad), math.Sin(rad)}
}

func ticket(id string, vec []float64) *domain.Ticket {
	t := domain.NewTicket(id, "text "+id, time.Now())
	t.ApplyClassification(domain.Classification{Category: domain.CategoryTechnical, Embedding: vec})
	return t
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{0.3, -2, 5}, []float64{0.3, -2, 5}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 1}, []float64{-1, -1}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestEngineStorm(t *testing.T) {
	t.Run("should promote eleven similar tickets into one incident", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 10)

		for i := 1; i <= 10; i++ {
			res, err := e.Register(ticket(fmt.Sprintf("t-%02d", i), angle(float64(i)*0.5)))
			require.NoError(t, err)
			assert.False(t, res.Grouped, "ticket %d", i)
			c.Advance(time.Second)
		}

		res, err := e.Register(ticket("t-11", angle(5.5)))
		require.NoError(t, err)

		assert.True(t, res.Grouped)
		assert.True(t, res.Promoted)
		assert.Len(t, res.Absorbed, 11)

		incidents := e.Incidents()
		require.Len(t, incidents, 1)
		assert.Equal(t, res.IncidentID, incidents[0].ID)
		assert.Len(t, incidents[0].MemberIDs, 11)
		assert.Equal(t, 11, incidents[0].SuppressedAlerts)
		assert.Equal(t, domain.CategoryTechnical, incidents[0].Category)
		assert.Equal(t, "t-01", incidents[0].MemberIDs[0])
	})

	t.Run("should add later similar tickets to the existing incident", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 10)
		var incidentID string
		for i := 1; i <= 11; i++ {
			res, err := e.Register(ticket(fmt.Sprintf("t-%d", i), angle(0)))
			require.NoError(t, err)
			incidentID = res.IncidentID
		}

		res, err := e.Register(ticket("t-12", angle(1)))
		require.NoError(t, err)

		assert.True(t, res.Grouped)
		assert.False(t, res.Promoted)
		assert.Equal(t, incidentID, res.IncidentID)
		assert.Equal(t, []string{"t-12"}, res.Absorbed)
		inc, ok := e.Incident(incidentID)
		require.True(t, ok)
		assert.Len(t, inc.MemberIDs, 12)
		assert.Len(t, e.Incidents(), 1)
	})

	t.Run("should not group dissimilar tickets", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 2)

		for i := 0; i < 6; i++ {
			res, err := e.Register(ticket(fmt.Sprintf("t-%d", i), angle(float64(i)*60)))
			require.NoError(t, err)
			assert.False(t, res.Grouped)
			assert.Equal(t, 1, res.ClusterSize)
		}
		assert.Empty(t, e.Incidents())
	})

	t.Run("should ignore tickets without embeddings", func(t *testing.T) {
		e := newEngine(&clock{now: time.Now()}, 1)
		res, err := e.Register(ticket("t-1", nil))
		require.NoError(t, err)
		assert.False(t, res.Grouped)
		assert.Equal(t, 0, e.WindowSize())
	})
}

func TestEngineChainedSimilarity(t *testing.T) {
	c := &clock{now: time.Now()}
	e := newEngine(c, 2)

	require.Less(t, Cosine(angle(0), angle(40)), 0.9)
	require.Greater(t, Cosine(angle(0), angle(20)), 0.9)

	_, err := e.Register(ticket("a", angle(0)))
	require.NoError(t, err)
	_, err = e.Register(ticket("c", angle(40)))
	require.NoError(t, err)
	res, err := e.Register(ticket("b", angle(20)))
	require.NoError(t, err)

	assert.Equal(t, 3, res.ClusterSize, "b bridges a and c")
	assert.True(t, res.Promoted)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, res.Absorbed)
}

func TestEngineWindow(t *testing.T) {
	t.Run("should drop tickets older than the window", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 10)
		for i := 0; i < 10; i++ {
			_, err := e.Register(ticket(fmt.Sprintf("old-%d", i), angle(0)))
			require.NoError(t, err)
		}

		c.Advance(5*time.Minute + time.Second)
		res, err := e.Register(ticket("new", angle(0)))
		require.NoError(t, err)

		assert.False(t, res.Grouped)
		assert.Equal(t, 1, res.ClusterSize)
		assert.Equal(t, 1, e.WindowSize())
	})

	t.Run("should split a cluster when its bridging ticket expires", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 10)
		_, err := e.Register(ticket("bridge", angle(25)))
		require.NoError(t, err)

		c.Advance(time.Minute)
		for i := 0; i < 4; i++ {
			_, err := e.Register(ticket(fmt.Sprintf("left-%d", i), angle(0)))
			require.NoError(t, err)
		}
		var res Result
		for i := 0; i < 5; i++ {
			res, err = e.Register(ticket(fmt.Sprintf("right-%d", i), angle(50)))
			require.NoError(t, err)
		}
		require.Equal(t, 10, res.ClusterSize, "bridge joins both sides")

		c.Advance(4*time.Minute + time.Second)
		for i := 1; i <= 2; i++ {
			res, err = e.Register(ticket(fmt.Sprintf("left-new-%d", i), angle(0)))
			require.NoError(t, err)
			assert.False(t, res.Grouped)
		}
		assert.False(t, res.Promoted)
		assert.Equal(t, 6, res.ClusterSize)
		assert.Empty(t, e.Incidents())
		assert.Equal(t, 11, e.WindowSize())
	})

	t.Run("should keep incident membership after eviction", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := newEngine(c, 2)
		for i := 0; i < 3; i++ {
			_, err := e.Register(ticket(fmt.Sprintf("t-%d", i), angle(0)))
			require.NoError(t, err)
		}

		c.Advance(6 * time.Minute)
		_, err := e.Register(ticket("other", angle(90)))
		require.NoError(t, err)

		id, ok := e.IncidentFor("t-0")
		assert.True(t, ok)
		inc, ok := e.Incident(id)
		require.True(t, ok)
		assert.Len(t, inc.MemberIDs, 3)
	})

	t.Run("should close idle incidents to new members", func(t *testing.T) {
		c := &clock{now: time.Now()}
		e := NewEngine(Config{Window: 10 * time.Minute, StormThreshold: 2, IncidentIdle: time.Minute, Now: c.Now})
		var first string
		for i := 0; i < 3; i++ {
			res, err := e.Register(ticket(fmt.Sprintf("t-%d", i), angle(0)))
			require.NoError(t, err)
			first = res.IncidentID
		}

		c.Advance(2 * time.Minute)
		res, err := e.Register(ticket("late", angle(0)))
		require.NoError(t, err)

		assert.NotEqual(t, first, res.IncidentID)
		inc, ok := e.Incident(first)
		require.True(t, ok)
		assert.True(t, inc.Closed)
		assert.Len(t, inc.MemberIDs, 3)
	})
}

func TestEngineIdempotentRegistration(t *testing.T) {
	e := newEngine(&clock{now: time.Now()}, 1)
	_, err := e.Register(ticket("t-1", angle(0)))
	require.NoError(t, err)
	first, err := e.Register(ticket("t-2", angle(0)))
	require.NoError(t, err)
	require.True(t, first.Promoted)

	again, err := e.Register(ticket("t-2", angle(0)))
	require.NoError(t, err)
	assert.True(t, again.Grouped)
	assert.False(t, again.Promoted)
	assert.Equal(t, first.IncidentID, again.IncidentID)
	inc, _ := e.Incident(first.IncidentID)
	assert.Len(t, inc.MemberIDs, 2)
}

func TestEngineConcurrentStorm(t *testing.T) {
	e := newEngine(&clock{now: time.Now()}, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Register(ticket(fmt.Sprintf("t-%d", i), angle(float64(i%5))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	incidents := e.Incidents()
	require.Len(t, incidents, 1)
	assert.Len(t, incidents[0].MemberIDs, 50)
}
