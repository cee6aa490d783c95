package remediation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yairfalse/colorbot/platform/memory"
	"github.com/yairfalse/colorbot/types"
)

const testGuild = "guild-1"

// newGuild seeds a guild with n color roles at positions 1..n and the bot
// at position n+10
func newGuild(t *testing.T, n int) (*memory.Platform, []Target) {
	t.Helper()

	p := memory.New()
	p.AddGuild(types.Guild{ID: testGuild, Name: "test", OwnerID: "owner-1"}, n+10)

	targets := make([]Target, 0, n)
	for i := 1; i <= n; i++ {
		color := i * 0x010101
		role := types.Role{
			ID:       fmt.Sprintf("role-%d", i),
			GuildID:  testGuild,
			Name:     types.FormatColor(color),
			Color:    color,
			Position: i,
		}
		require.NoError(t, p.AddRole(role))
		targets = append(targets, TargetFromRole(role))
	}
	return p, targets
}

func newCoordinator(t *testing.T, p *memory.Platform, journal Journal) (*Coordinator, *Deduplicator) {
	t.Helper()

	dedup := NewDeduplicator(DeduplicatorConfig{Messenger: p})
	c, err := NewCoordinator(CoordinatorConfig{
		Deleter:    p,
		Classifier: NewClassifier(p),
		Notifier:   dedup,
		Journal:    journal,
	})
	require.NoError(t, err)
	return c, dedup
}

// gate holds deletions until tokens are released
type gate struct {
	tokens chan struct{}
}

func newGate(p *memory.Platform) *gate {
	g := &gate{tokens: make(chan struct{}, 64)}
	p.SetDeleteHook(func(ctx context.Context, _, _ string) error {
		select {
		case <-g.tokens:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return g
}

func (g *gate) release(n int) {
	for i := 0; i < n; i++ {
		g.tokens <- struct{}{}
	}
}

func waitDrained(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Drained():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain")
	}
}

type memJournal struct {
	mu      sync.Mutex
	records []RunSummary
	err     error
}

func (j *memJournal) Record(summary RunSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, summary)
	return j.err
}

func (j *memJournal) all() []RunSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]RunSummary(nil), j.records...)
}

// fakeClock fires After channels only when advanced
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

func (c *fakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// blockUntilWaiting waits for the reporter to park on the clock
func (c *fakeClock) blockUntilWaiting(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Waiters() > 0 }, 5*time.Second, time.Millisecond)
}
