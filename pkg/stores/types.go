package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Experiment is a stored experiment
type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Config    string    `json:"config"` // JSON blob
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one execution of an experiment
type Run struct {
	ID           string           `json:"id"`
	ExperimentID string           `json:"experiment_id"`
	Mode         string           `json:"mode"` // ensemble_smoother, sample, load
	Status       engine.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Error        *string          `json:"error,omitempty"`
	Metadata     string           `json:"metadata"` // JSON blob
	CreatedAt    time.Time        `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID          int64      `json:"id"`
	RunID       *string    `json:"run_id,omitempty"`
	Ensemble    *string    `json:"ensemble,omitempty"`
	Realization int        `json:"realization"`
	Type        string     `json:"type"`
	Level       EventLevel `json:"level"`
	Message     string     `json:"message"`
	Details     *string    `json:"details,omitempty"` // JSON blob
	Timestamp   time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Storage

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Experiment operations
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
