package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/platform/memory"
)

func runReporter(ctx context.Context, r *Reporter) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	return errc
}

func waitReporter(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
		return nil
	}
}

func TestReporter_FastRunOnlyFinalMessage(t *testing.T) {
	p, targets := newGuild(t, 5)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	status := memory.NewStatusLog()
	r := NewReporter(ReporterConfig{Clock: newFakeClock()}, run, status)
	assert.Equal(t, ReporterIdle, r.State())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"Deleted all 5 color roles."}, status.Messages())
	assert.Equal(t, ReporterDone, r.State())
}

func TestReporter_ProgressThenFinal(t *testing.T) {
	p, targets := newGuild(t, 3)
	g := newGate(p)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)

	clock := newFakeClock()
	status := memory.NewStatusLog()
	r := NewReporter(ReporterConfig{Clock: clock}, run, status)
	errc := runReporter(context.Background(), r)

	clock.blockUntilWaiting(t)
	// Nothing is written before the initial delay.
	clock.Advance(499 * time.Millisecond)
	assert.Empty(t, status.Messages())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(status.Messages()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, "Deleting color roles... (0 of 3)", status.Last())
	assert.Equal(t, ReporterReporting, r.State())

	g.release(1)
	require.Eventually(t, func() bool { return run.Snapshot().Succeeded == 1 }, 5*time.Second, time.Millisecond)

	clock.blockUntilWaiting(t)
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(status.Messages()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, "Deleting color roles... (1 of 3)", status.Last())

	g.release(2)
	require.NoError(t, waitReporter(t, errc))

	assert.Equal(t, []string{
		"Deleting color roles... (0 of 3)",
		"Deleting color roles... (1 of 3)",
		"Deleted all 3 color roles.",
	}, status.Messages())
}

func TestReporter_AbortedRunShowsRemediation(t *testing.T) {
	p, targets := newGuild(t, 3)
	p.SetManageRoles(testGuild, false)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)

	status := memory.NewStatusLog()
	r := NewReporter(ReporterConfig{Clock: newFakeClock()}, run, status)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{MissingAccessMessage}, status.Messages())
}

func TestReporter_ChannelGoneDegradesToLog(t *testing.T) {
	p, targets := newGuild(t, 2)
	g := newGate(p)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)

	clock := newFakeClock()
	status := memory.NewStatusLog()
	status.FailWith(platform.ErrChannelGone)

	attempts := 0
	status.OnUpsert(func(string) { attempts++ })

	r := NewReporter(ReporterConfig{Clock: clock}, run, status)
	errc := runReporter(context.Background(), r)

	clock.blockUntilWaiting(t)
	clock.Advance(DefaultInitialDelay)
	clock.blockUntilWaiting(t)
	clock.Advance(DefaultInterval)
	clock.blockUntilWaiting(t)

	g.release(2)
	require.NoError(t, waitReporter(t, errc))

	// Only the first write reached the channel.
	assert.Equal(t, 1, attempts)
	assert.Empty(t, status.Messages())

	snap, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Succeeded)
}

func TestReporter_FinalWriteFailure(t *testing.T) {
	p, targets := newGuild(t, 1)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	flaky := errors.New("rate limited")
	status := memory.NewStatusLog()
	status.FailWith(flaky)

	r := NewReporter(ReporterConfig{Clock: newFakeClock()}, run, status)
	assert.ErrorIs(t, r.Run(context.Background()), flaky)
}

func TestReporter_CancelStopsReportingOnly(t *testing.T) {
	p, targets := newGuild(t, 2)
	g := newGate(p)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	status := memory.NewStatusLog()
	r := NewReporter(ReporterConfig{Clock: newFakeClock()}, run, status)
	errc := runReporter(ctx, r)

	cancel()
	assert.ErrorIs(t, waitReporter(t, errc), context.Canceled)

	g.release(2)
	snap, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Empty(t, status.Messages())
}

func TestReporter_RunTwice(t *testing.T) {
	p, targets := newGuild(t, 1)
	c, _ := newCoordinator(t, p, nil)

	run, err := c.Start(context.Background(), Request{GuildID: testGuild, Targets: targets})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	r := NewReporter(ReporterConfig{Clock: newFakeClock()}, run, nil)
	require.NoError(t, r.Run(context.Background()))
	assert.Error(t, r.Run(context.Background()))
}
