package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/colorbot/config"
	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/platform/memory"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/storage"
	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

func testDeps(t *testing.T) simulationDeps {
	t.Helper()
	return simulationDeps{
		cfg:    config.Default(),
		logger: telemetry.NopLogger(),
		reporter: &remediation.ReporterConfig{
			InitialDelay: time.Hour,
			Interval:     time.Hour,
		},
	}
}

func TestSimulate_AllDeleted(t *testing.T) {
	var out bytes.Buffer

	snap, err := simulate(context.Background(), simulation{Roles: 5, Seed: 1}, testDeps(t), &out)
	require.NoError(t, err)
	assert.Equal(t, remediation.OutcomeCompleted, snap.Outcome())
	assert.Equal(t, 5, snap.Succeeded)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Are you sure you want to delete all 5 of this server's color roles?", lines[0])
	assert.Equal(t, "Deleted all 5 color roles.", lines[2])
	assert.Contains(t, lines[3], "purge completed, 5 of 5 deleted")
}

func TestSimulate_MissingAccessNotifiesOwnerOnce(t *testing.T) {
	var out bytes.Buffer

	snap, err := simulate(context.Background(), simulation{
		Roles:    8,
		FailRate: 1,
		FailCode: int(platform.CodeMissingAccess),
		Seed:     7,
	}, testDeps(t), &out)
	require.NoError(t, err)
	assert.Equal(t, remediation.OutcomeAborted, snap.Outcome())

	text := out.String()
	assert.Contains(t, text, remediation.MissingAccessMessage)
	assert.Equal(t, 1, strings.Count(text, "[dm owner]"))
}

func TestSimulate_FatalFailure(t *testing.T) {
	var out bytes.Buffer

	snap, err := simulate(context.Background(), simulation{
		Roles:    3,
		FailRate: 1,
		FailCode: 500,
		Seed:     3,
	}, testDeps(t), &out)
	require.Error(t, err)
	assert.Equal(t, remediation.OutcomeFailed, snap.Outcome())
	assert.Contains(t, out.String(), remediation.GenericFailureMessage)
}

func TestSimulate_RecordsHistory(t *testing.T) {
	journal, err := storage.OpenRunJournal(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()

	deps := testDeps(t)
	deps.journal = journal

	var out bytes.Buffer
	_, err = simulate(context.Background(), simulation{Roles: 2, Seed: 5}, deps, &out)
	require.NoError(t, err)

	records, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, simulatedGuild, records[0].GuildID)
	assert.Equal(t, remediation.KindPurge, records[0].Kind)
	assert.Equal(t, 2, records[0].Succeeded)
}

func TestSimulate_Sweep(t *testing.T) {
	var out bytes.Buffer

	snap, err := simulate(context.Background(), simulation{Roles: 4, Seed: 9, Sweep: true}, testDeps(t), &out)
	require.NoError(t, err)
	assert.Equal(t, remediation.OutcomeCompleted, snap.Outcome())
	assert.Equal(t, 4, snap.Total)

	text := out.String()
	assert.NotContains(t, text, "Are you sure")
	assert.Contains(t, text, "Deleted all 4 color roles.")
	assert.Contains(t, text, "sweep completed, 4 of 4 deleted")
}

func TestSimulate_SweepNothingUnused(t *testing.T) {
	var out bytes.Buffer

	snap, err := simulate(context.Background(), simulation{Roles: 3, Seed: 2, Sweep: true, Held: 1}, testDeps(t), &out)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Equal(t, "No unused color roles.\n", out.String())
}

func TestSimulate_Validation(t *testing.T) {
	var out bytes.Buffer
	_, err := simulate(context.Background(), simulation{Roles: 0}, testDeps(t), &out)
	assert.Error(t, err)

	_, err = simulate(context.Background(), simulation{Roles: 1, FailRate: 2}, testDeps(t), &out)
	assert.Error(t, err)

	_, err = simulate(context.Background(), simulation{Roles: 1, Held: -0.5}, testDeps(t), &out)
	assert.Error(t, err)
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil))
	assert.Equal(t, "No runs recorded.\n", out.String())

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out.Reset()
	require.NoError(t, printHistory(&out, []storage.RunRecord{{
		ID:         "01HX",
		GuildID:    "g1",
		Kind:       remediation.KindSweep,
		Total:      4,
		Succeeded:  4,
		Outcome:    remediation.OutcomeCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "STARTED"))
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "01HX", "g1", "sweep", "completed", "4/4", "1.5s"}, strings.Fields(lines[1]))
}

func TestHTTPServer_Routes(t *testing.T) {
	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	server := newHTTPServer(":0", health)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDrain_WaitsForSweepBeforeJournalCloses(t *testing.T) {
	journal, err := storage.OpenRunJournal(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()

	p := memory.New()
	guild := types.Guild{ID: "g1", Name: "g1", OwnerID: simulatedOwner}
	p.AddGuild(guild, 10)
	require.NoError(t, p.AddRole(types.Role{ID: "r1", GuildID: "g1", Name: "#010101", Color: 0x010101, Position: 1}))

	hold := make(chan struct{})
	p.SetDeleteHook(func(ctx context.Context, _, _ string) error {
		select {
		case <-hold:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	svc, err := wire(wiring{platform: p, journal: journal, cfg: config.Default(), logger: telemetry.NopLogger()})
	require.NoError(t, err)

	run, err := svc.sweeper.Guild(context.Background(), guild)
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Error(t, drain(svc, 10*time.Millisecond))

	close(hold)
	require.NoError(t, drain(svc, 5*time.Second))

	records, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, run.ID, records[0].ID)
	assert.Equal(t, remediation.KindSweep, records[0].Kind)
	assert.Equal(t, remediation.OutcomeCompleted, records[0].Outcome)
}
