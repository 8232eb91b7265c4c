package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshState is the scheduler's state machine position.
type RefreshState string

const (
	RefreshIdle    RefreshState = "idle"
	RefreshRunning RefreshState = "running"
	RefreshFailed  RefreshState = "failed"
)

// KeyFailure records why a key was skipped in a pass.
type KeyFailure struct {
	Key   Key    `json:"key"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// PassSummary is the observable outcome of one refresh pass.
type PassSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped"`
	Superseded int           `json:"superseded"`
	Cancelled  bool          `json:"cancelled"`
	Failures   []KeyFailure  `json:"failures,omitempty"`
}

// RefreshStatus is what the status endpoint reports.
type RefreshStatus struct {
	State        RefreshState  `json:"state"`
	LastPass     *PassSummary  `json:"last_pass,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Cache        Freshness     `json:"cache"`
	MaxStaleness time.Duration `json:"max_staleness"`
	StaleAfter   time.Duration `json:"stale_after"`
}

// RefreshRun is one row of refresh history.
type RefreshRun struct {
	RunID        uuid.UUID    `json:"run_id" db:"run_id"`
	Status       RefreshState `json:"status" db:"status"`
	StartedAt    time.Time    `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	Processed    int          `json:"processed" db:"processed"`
	Succeeded    int          `json:"succeeded" db:"succeeded"`
	Skipped      int          `json:"skipped" db:"skipped"`
	Superseded   int          `json:"superseded" db:"superseded"`
	Cancelled    bool         `json:"cancelled" db:"cancelled"`
	ErrorMessage string       `json:"error_message,omitempty" db:"error_message"`
}
