package scheduler

import (
	"context"
	"time"
)

// Record is a durable trigger: an expression plus the arguments its
// callback receives. The trigger id is the owning profile's id.
type Record struct {
	ID         string            // Trigger ID
	ProfileID  string            // Owning profile
	Expression string            // Five-field trigger expression, Monday=0 weekdays
	Timezone   string            // IANA name or ±HH:MM; empty uses the engine default
	Args       map[string]string // Callback arguments
	Enabled    bool              // Disabled records are kept but never pending
	NextRun    *time.Time        // Next scheduled fire time
	LastRun    *time.Time        // Last fire time
	LastStatus string            // Status of the last firing
	RunCount   int               // Number of dispatched firings
	Version    int64             // Incremented on every Put
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Callback is the processing function invoked for each firing. It must be
// safe for concurrent use across distinct trigger ids.
type Callback func(ctx context.Context, triggerID string, args map[string]string) error

// FiringStatus is the outcome of one dispatched occurrence.
type FiringStatus string

const (
	FiringRunning   FiringStatus = "running"
	FiringSucceeded FiringStatus = "succeeded"
	FiringFailed    FiringStatus = "failed"
	FiringSkipped   FiringStatus = "skipped"
)

// Firing is one occurrence handed to the executor.
type Firing struct {
	ID          string            `json:"id"`
	TriggerID   string            `json:"trigger_id"`
	Args        map[string]string `json:"-"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Status      FiringStatus      `json:"status"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

// Entry is one pending firing held by the engine.
type Entry struct {
	TriggerID  string            `json:"trigger_id"`
	ProfileID  string            `json:"profile_id"`
	Expression string            `json:"expression"`
	Timezone   string            `json:"timezone"`
	Args       map[string]string `json:"-"`
	At         time.Time         `json:"next_run_time"`

	index int
}

// State is the engine's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateFiring
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateFiring:
		return "firing"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
