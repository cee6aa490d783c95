package remediation

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yairfalse/colorbot/types"
)

var (
	// ErrNoTargets is returned when a run is started with nothing to delete.
	// Callers are expected to report "nothing to delete" themselves.
	ErrNoTargets = errors.New("no remediation targets")

	// ErrRunInProgress is returned when a guild already has a run in flight
	ErrRunInProgress = errors.New("remediation run already in progress")
)

// Run kinds
const (
	KindPurge = "purge"
	KindSweep = "sweep"
)

// Target is one role to delete. Immutable for the lifetime of a run.
type Target struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// TargetFromRole builds a target from a guild role
func TargetFromRole(role types.Role) Target {
	return Target{ID: role.ID, Name: role.Name, Position: role.Position}
}

// TargetsFromRoles builds targets from guild roles
func TargetsFromRoles(roles []types.Role) []Target {
	targets := make([]Target, 0, len(roles))
	for _, role := range roles {
		targets = append(targets, TargetFromRole(role))
	}
	return targets
}

// ErrorReport is an operator-actionable description of why a run stopped
type ErrorReport struct {
	Message string  `json:"message"`
	Target  *Target `json:"target,omitempty"`
}

func (r *ErrorReport) Error() string {
	return r.Message
}

// AntiSpamKey identifies one batch of related failures for notification
// de-duplication. One key is minted per run.
type AntiSpamKey string

// NewAntiSpamKey mints a fresh key
func NewAntiSpamKey() AntiSpamKey {
	return AntiSpamKey(ulid.Make().String())
}

// Request describes a run to start
type Request struct {
	GuildID string
	// OwnerID receives a direct message the first time a recoverable failure
	// is observed. Empty disables direct messages.
	OwnerID string
	Kind    string
	Reason  string
	Targets []Target
}

// RunState is the aggregate of a run. Succeeded+Failed never exceeds Total.
type RunState struct {
	Total         int          `json:"total"`
	Succeeded     int          `json:"succeeded"`
	Failed        int          `json:"failed"`
	TerminalError *ErrorReport `json:"terminal_error,omitempty"`
	Err           error        `json:"-"`
}

// Terminal reports whether the run reached a final state
func (s RunState) Terminal() bool {
	return s.Succeeded+s.Failed == s.Total || s.TerminalError != nil || s.Err != nil
}

// Outcome summarizes a terminal (or running) state
func (s RunState) Outcome() Outcome {
	switch {
	case s.Err != nil:
		return OutcomeFailed
	case s.TerminalError != nil:
		return OutcomeAborted
	case s.Succeeded+s.Failed == s.Total:
		return OutcomeCompleted
	default:
		return OutcomeRunning
	}
}

// Snapshot is a read-only copy of RunState taken at a point in time
type Snapshot struct {
	RunState
	TakenAt time.Time `json:"taken_at"`
}

// Outcome of a run
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// RunSummary is what gets journaled once a run reaches a terminal state
type RunSummary struct {
	ID         string    `json:"id"`
	GuildID    string    `json:"guild_id"`
	Kind       string    `json:"kind"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Outcome    Outcome   `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Journal records finished runs for audit
type Journal interface {
	Record(summary RunSummary) error
}
