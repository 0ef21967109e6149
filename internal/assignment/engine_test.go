package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
)

type fakeDirectory struct {
	mu       sync.Mutex
	upserts  []domain.Agent
	deleted  []string
	active   map[string]bool
	loads    map[string]int
	failLoad bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{active: map[string]bool{}, loads: map[string]int{}}
}

func (f *fakeDirectory) Upsert(_ context.Context, a domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, a)
	return nil
}

func (f *fakeDirectory) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDirectory) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = active
	return nil
}

func (f *fakeDirectory) AdjustLoad(_ context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return errors.New("db down")
	}
	f.loads[id] += delta
	return nil
}

func technical(id string, skill float64, load, capacity int) domain.Agent {
	return domain.Agent{
		ID:          id,
		Name:        id,
		Skills:      map[domain.Category]float64{domain.CategoryTechnical: skill},
		CurrentLoad: load,
		MaxCapacity: capacity,
		Active:      true,
	}
}

func TestAssignSelection(t *testing.T) {
	tests := []struct {
		name   string
		agents []domain.Agent
		want   string
	}{
		{
			name:   "should prefer lower load within epsilon",
			agents: []domain.Agent{technical("A", 0.80, 2, 10), technical("B", 0.81, 5, 10)},
			want:   "A",
		},
		{
			name:   "should prefer higher skill outside epsilon",
			agents: []domain.Agent{technical("A", 0.70, 0, 10), technical("B", 0.90, 5, 10)},
			want:   "B",
		},
		{
			name:   "should break full ties by lowest id",
			agents: []domain.Agent{technical("z", 0.5, 1, 10), technical("m", 0.5, 1, 10), technical("q", 0.5, 1, 10)},
			want:   "m",
		},
		{
			name:   "should skip agents at capacity",
			agents: []domain.Agent{technical("full", 0.99, 3, 3), technical("free", 0.10, 0, 3)},
			want:   "free",
		},
		{
			name: "should skip inactive agents",
			agents: []domain.Agent{
				func() domain.Agent { a := technical("off", 0.99, 0, 3); a.Active = false; return a }(),
				technical("on", 0.10, 0, 3),
			},
			want: "on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Config{Epsilon: 0.01}, nil, nil)
			require.NoError(t, e.Seed(tt.agents))

			decision, err := e.Assign(context.Background(), "t-1", domain.CategoryTechnical)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.AgentID)

			agent, ok := e.Agent(tt.want)
			require.True(t, ok)
			for _, seeded := range tt.agents {
				if seeded.ID == tt.want {
					assert.Equal(t, seeded.CurrentLoad+1, agent.CurrentLoad)
				}
			}
		})
	}
}

func TestAssignNoEligibleAgent(t *testing.T) {
	e := NewEngine(Config{Epsilon: 0.01}, nil, nil)
	require.NoError(t, e.Seed([]domain.Agent{
		technical("A", 0.9, 0, 5),
		{ID: "B", Skills: map[domain.Category]float64{domain.CategoryLegal: 0}, MaxCapacity: 5, Active: true},
	}))

	decision, err := e.Assign(context.Background(), "t-1", domain.CategoryLegal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEligibleAgent)
	assert.Empty(t, decision.AgentID)

	stats := e.Stats()
	assert.Equal(t, 1, stats.TotalRouted)
	assert.Equal(t, 1, stats.Unrouted)
}

func TestAssignConcurrentNeverExceedsCapacity(t *testing.T) {
	e := NewEngine(Config{Epsilon: 0.01}, nil, nil)
	require.NoError(t, e.Seed([]domain.Agent{technical("A", 0.9, 0, 7), technical("B", 0.5, 0, 5)}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	assigned, failed := 0, 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Assign(context.Background(), fmt.Sprintf("t-%d", i), domain.CategoryTechnical)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrNoEligibleAgent)
				failed++
				return
			}
			assigned++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 12, assigned)
	assert.Equal(t, 28, failed)
	for _, a := range e.Agents() {
		assert.Equal(t, a.MaxCapacity, a.CurrentLoad, a.ID)
	}
}

func TestRelease(t *testing.T) {
	dir := newFakeDirectory()
	e := NewEngine(Config{}, dir, nil)
	require.NoError(t, e.Seed([]domain.Agent{technical("A", 0.9, 0, 2)}))

	_, err := e.Assign(context.Background(), "t-1", domain.CategoryTechnical)
	require.NoError(t, err)

	released, err := e.Release(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = e.Release(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, released)

	_, err = e.Release(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Equal(t, 0, dir.loads["A"])
}

func TestLoadWriteBackFailureDoesNotFailAssignment(t *testing.T) {
	dir := newFakeDirectory()
	dir.failLoad = true
	e := NewEngine(Config{}, dir, nil)
	require.NoError(t, e.Seed([]domain.Agent{technical("A", 0.9, 0, 2)}))

	decision, err := e.Assign(context.Background(), "t-1", domain.CategoryTechnical)
	require.NoError(t, err)
	assert.Equal(t, "A", decision.AgentID)
}

func TestRegistryOperations(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	e := NewEngine(Config{}, dir, nil)

	t.Run("should reject invalid agents", func(t *testing.T) {
		_, err := e.Register(ctx, domain.Agent{ID: "x"})
		assert.ErrorIs(t, err, ErrInvalidAgent)
		_, err = e.Register(ctx, domain.Agent{MaxCapacity: 1})
		assert.ErrorIs(t, err, ErrInvalidAgent)
		_, err = e.Register(ctx, technical("neg", -0.1, 0, 1))
		assert.ErrorIs(t, err, ErrInvalidAgent)
	})

	t.Run("should preserve live load on re-register", func(t *testing.T) {
		_, err := e.Register(ctx, technical("A", 0.5, 0, 3))
		require.NoError(t, err)
		_, err = e.Assign(ctx, "t-1", domain.CategoryTechnical)
		require.NoError(t, err)

		updated, err := e.Register(ctx, technical("A", 0.7, 0, 4))
		require.NoError(t, err)
		assert.Equal(t, 1, updated.CurrentLoad)
		assert.Equal(t, 4, updated.MaxCapacity)
		assert.Equal(t, 0.7, updated.Skill(domain.CategoryTechnical))
		assert.Len(t, dir.upserts, 2)
	})

	t.Run("should toggle active", func(t *testing.T) {
		a, err := e.SetActive(ctx, "A", false)
		require.NoError(t, err)
		assert.False(t, a.Active)
		assert.False(t, dir.active["A"])

		_, err = e.Assign(ctx, "t-2", domain.CategoryTechnical)
		assert.ErrorIs(t, err, ErrNoEligibleAgent)

		_, err = e.SetActive(ctx, "missing", true)
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("should deregister", func(t *testing.T) {
		require.NoError(t, e.Deregister(ctx, "A"))
		assert.ErrorIs(t, e.Deregister(ctx, "A"), ErrAgentNotFound)
		assert.Empty(t, e.Agents())
		assert.Equal(t, []string{"A"}, dir.deleted)
	})
}

func TestHistory(t *testing.T) {
	e := NewEngine(Config{HistorySize: 3}, nil, nil)
	require.NoError(t, e.Seed(DefaultRoster()))

	for i := 0; i < 5; i++ {
		_, err := e.Assign(context.Background(), fmt.Sprintf("t-%d", i), domain.CategoryBilling)
		require.NoError(t, err)
	}

	recent := e.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "t-2", recent[0].TicketID)
	assert.Equal(t, "t-4", recent[2].TicketID)
	assert.Len(t, e.Recent(1), 1)

	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalRouted)
	assert.Equal(t, 0, stats.Unrouted)
	assert.Equal(t, 3, stats.ByCategory[domain.CategoryBilling])
	assert.Greater(t, stats.AvgScore, 0.0)
}

func TestDefaultRoster(t *testing.T) {
	e := NewEngine(Config{Epsilon: 0.01}, nil, nil)
	require.NoError(t, e.Seed(DefaultRoster()))

	tech, err := e.Assign(context.Background(), "t-tech", domain.CategoryTechnical)
	require.NoError(t, err)
	assert.Equal(t, "Alice", tech.AgentName)

	legal, err := e.Assign(context.Background(), "t-legal", domain.CategoryLegal)
	require.NoError(t, err)
	assert.Equal(t, "Carol", legal.AgentName)
}

type blockingDirectory struct {
	*fakeDirectory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDirectory) Upsert(ctx context.Context, a domain.Agent) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeDirectory.Upsert(ctx, a)
}

func TestRegisterKeepsAssignmentsMadeDuringDirectoryWrite(t *testing.T) {
	ctx := context.Background()
	dir := &blockingDirectory{fakeDirectory: newFakeDirectory(), entered: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(Config{}, dir, nil)
	require.NoError(t, e.Seed([]domain.Agent{technical("A", 0.5, 0, 3)}))

	done := make(chan error, 1)
	go func() {
		_, err := e.Register(ctx, technical("A", 0.8, 0, 5))
		done <- err
	}()
	<-dir.entered

	decision, err := e.Assign(ctx, "t-1", domain.CategoryTechnical)
	require.NoError(t, err)
	assert.Equal(t, "A", decision.AgentID)

	close(dir.release)
	require.NoError(t, <-done)

	a, ok := e.Agent("A")
	require.True(t, ok)
	assert.Equal(t, 1, a.CurrentLoad)
	assert.Equal(t, 1, a.TotalHandled)
	assert.Equal(t, 5, a.MaxCapacity)
	assert.Equal(t, 0.8, a.Skill(domain.CategoryTechnical))

	released, err := e.Release(ctx, "A")
	require.NoError(t, err)
	assert.True(t, released)
	a, _ = e.Agent("A")
	assert.Zero(t, a.CurrentLoad)
}

func TestRegistryUpdatesRaceWithAssign(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(Config{}, newFakeDirectory(), nil)
	require.NoError(t, e.Seed([]domain.Agent{technical("A", 0.9, 0, 100)}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	assigned := 0
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Assign(ctx, fmt.Sprintf("t-%d", i), domain.CategoryTechnical); err == nil {
				mu.Lock()
				assigned++
				mu.Unlock()
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := e.Register(ctx, technical("A", 0.9, 0, 100))
				assert.NoError(t, err)
				return
			}
			_, err := e.SetActive(ctx, "A", true)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a, ok := e.Agent("A")
	require.True(t, ok)
	assert.Equal(t, 40, assigned)
	assert.Equal(t, assigned, a.CurrentLoad)
	assert.Equal(t, assigned, a.TotalHandled)
}
