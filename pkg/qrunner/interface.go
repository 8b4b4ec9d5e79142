// Package qrunner supervises project run execution: it launches a built
// command under a chosen backend (local process, docker container,
// kubernetes job) and exposes a handle for polling, blocking wait, and
// cooperative cancellation.
package qrunner

import (
	"context"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

// Status is the execution state of a run. Exactly one terminal state is
// reached and never left.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusKilled    Status = "KILLED"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusKilled
}

// JobSpec is one fully built command ready for execution.
type JobSpec struct {
	RunID   string
	Command []string          // argument vector
	WorkDir string            // project working directory
	Env     map[string]string // extra environment, merged over the ambient one
	Image   string            // container image for docker/kubernetes backends
	LogDir  string            // when set, stdout.log/stderr.log are written here

	// CleanupDir names a temporary fetched directory owned by the run; it is
	// removed once the run reaches a terminal state, on every exit path.
	CleanupDir string
}

// SubmittedRun is the live handle to one in-flight or completed execution.
// Multiple observers may poll, wait, and cancel concurrently; handles of
// different runs share no state.
type SubmittedRun interface {
	RunID() string

	// GetStatus polls the current state without blocking.
	GetStatus() Status

	// Wait blocks until a terminal state is reached and returns it. Calling
	// it again after termination returns immediately with the same state.
	Wait(ctx context.Context) (Status, error)

	// Cancel signals the underlying process or job if it is still running
	// and returns without waiting for exit; a terminal run is left untouched.
	Cancel() error
}

// Backend is an execution substrate runs are submitted to.
type Backend interface {
	Submit(ctx context.Context, spec JobSpec) (SubmittedRun, error)
}

// Backend names form a closed set; dispatch happens once at construction.
const (
	BackendLocal      = "local"
	BackendDocker     = "docker"
	BackendKubernetes = "kubernetes"
)

// BackendOptions carries backend-specific construction inputs.
type BackendOptions struct {
	Logger *qlog.Logger

	// Kubernetes holds the parsed kubernetes backend configuration; required
	// when selecting BackendKubernetes.
	Kubernetes *KubernetesConfig
}

// NewBackend selects an execution backend by name.
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = qlog.NewDefault()
	}
	switch name {
	case BackendLocal, "":
		return &LocalBackend{Logger: logger}, nil
	case BackendDocker:
		return NewDockerBackend(logger)
	case BackendKubernetes:
		if opts.Kubernetes == nil {
			return nil, qerr.Executionf("kubernetes backend requires a backend configuration")
		}
		return NewKubernetesBackend(logger, opts.Kubernetes)
	default:
		return nil, qerr.Executionf("unsupported backend %q (expected one of local, docker, kubernetes)", name)
	}
}
