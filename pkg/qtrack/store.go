// Package qtrack is the experiment-tracking collaborator: run records,
// experiment resolution, and run tags. The orchestrator drives it through
// the Store interface; file-backed and REST-backed implementations are
// provided.
package qtrack

import "context"

// Run statuses recorded in the tracking store. They mirror the supervisor's
// lifecycle states.
const (
	StatusScheduled = "SCHEDULED"
	StatusRunning   = "RUNNING"
	StatusFinished  = "FINISHED"
	StatusFailed    = "FAILED"
	StatusKilled    = "KILLED"
)

// Experiment groups runs under a name.
type Experiment struct {
	ID   string `json:"experiment_id"`
	Name string `json:"name"`
}

// DefaultExperimentID is the experiment used when the caller selects none.
const DefaultExperimentID = "0"

// Store records run identity and lifecycle.
type Store interface {
	// GetExperimentByName returns nil (no error) when the name is unknown.
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)

	CreateExperiment(ctx context.Context, name string) (string, error)

	// CreateRun registers a new run and returns its id.
	CreateRun(ctx context.Context, experimentID string, tags map[string]string) (string, error)

	SetTag(ctx context.Context, runID, key, value string) error

	UpdateRunStatus(ctx context.Context, runID, status string) error
}
