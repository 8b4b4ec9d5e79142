// Package projects is the orchestration facade: it turns a project
// reference plus run options into a tracked, supervised execution by
// sequencing fetch, declaration parsing, environment preparation, command
// building, run registration, and backend submission.
package projects

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/quillml/quill/pkg/qart"
	"github.com/quillml/quill/pkg/qenv"
	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qfetch"
	"github.com/quillml/quill/pkg/qlog"
	"github.com/quillml/quill/pkg/qproj"
	"github.com/quillml/quill/pkg/qref"
	"github.com/quillml/quill/pkg/qrunner"
	"github.com/quillml/quill/pkg/qtrack"
)

// DefaultEntryPoint is run when no entry point is named.
const DefaultEntryPoint = "main"

// DefaultTrackingDir backs run records when no tracking store is supplied.
const DefaultTrackingDir = ".quill"

// RunOptions control a single project launch. The zero value runs the
// "main" entry point locally, synchronously, in an isolated environment,
// tracked under DefaultTrackingDir.
type RunOptions struct {
	// EntryPoint names the declared entry point (or runnable file) to
	// launch; DefaultEntryPoint when empty.
	EntryPoint string

	// Version is a commit, branch, or tag for version-controlled
	// references. Setting it for a plain local directory is an error.
	Version string

	// Parameters are user-supplied entry point parameter values.
	Parameters map[string]string

	// ExperimentName and ExperimentID select the experiment the run is
	// recorded under. At most one may be set; neither means the default
	// experiment. An unknown name is created on first use.
	ExperimentName string
	ExperimentID   string

	// ParentRunID, when set, is stamped on the run as its parent.
	ParentRunID string

	// Backend names the execution backend; local when empty.
	Backend string

	// BackendConfig carries backend-specific settings, e.g. the kubernetes
	// context and job template.
	BackendConfig map[string]string

	// SkipIsolatedEnv runs the command in the ambient environment instead
	// of a prepared isolated one.
	SkipIsolatedEnv bool

	// StorageDir receives downloaded path-typed parameter artifacts; a
	// fresh temporary directory when empty.
	StorageDir string

	// LogDir, when set, collects per-run stdout/stderr logs under
	// LogDir/<run-id> for backends that capture them.
	LogDir string

	// DockerImage overrides the project's declared container image.
	DockerImage string

	Tracking  qtrack.Store
	Artifacts qproj.ArtifactDownloader
	Logger    *qlog.Logger
}

// Run launches the project at uri and returns a handle to the submitted
// run. Failures before the process starts are returned as errors; failures
// after it starts surface as the FAILED terminal status instead.
func Run(ctx context.Context, uri string, opts *RunOptions) (*ActiveRun, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = qlog.NewDefault()
	}
	tracking := opts.Tracking
	if tracking == nil {
		store, err := qtrack.NewFileStore(DefaultTrackingDir)
		if err != nil {
			return nil, err
		}
		tracking = store
	}
	entryPoint := opts.EntryPoint
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}

	experimentID, err := resolveExperimentID(ctx, tracking, opts.ExperimentName, opts.ExperimentID)
	if err != nil {
		return nil, err
	}

	backendName := opts.Backend
	if backendName == "" {
		backendName = qrunner.BackendLocal
	}
	backendOpts := qrunner.BackendOptions{Logger: logger}
	if backendName == qrunner.BackendKubernetes {
		kubeCfg, err := qrunner.ParseKubernetesConfig(opts.BackendConfig)
		if err != nil {
			return nil, err
		}
		backendOpts.Kubernetes = kubeCfg
	}
	backend, err := qrunner.NewBackend(backendName, backendOpts)
	if err != nil {
		return nil, err
	}

	ref, err := qref.Parse(uri)
	if err != nil {
		return nil, err
	}
	fetcher := &qfetch.Fetcher{}
	fetched, err := fetcher.Fetch(ctx, ref, opts.Version, false)
	if err != nil {
		return nil, err
	}
	// Every failure from here until Submit owns the run must release the
	// fetched copy.
	fail := func(err error) (*ActiveRun, error) {
		fetched.Cleanup()
		return nil, err
	}

	project, err := qproj.Load(fetched.Dir)
	if err != nil {
		return fail(err)
	}
	ep, err := project.GetEntryPoint(entryPoint)
	if err != nil {
		return fail(err)
	}

	image := opts.DockerImage
	if image == "" {
		image = project.DockerImage
	}
	containerized := backendName != qrunner.BackendLocal

	env := &qenv.Handle{}
	if !containerized && image == "" {
		preparer := &qenv.Preparer{Logger: logger}
		env, err = preparer.Prepare(ctx, project.CondaEnv, !opts.SkipIsolatedEnv)
		if err != nil {
			return fail(err)
		}
	}

	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir, err = os.MkdirTemp("", "quill-params-")
		if err != nil {
			return fail(fmt.Errorf("creating parameter storage directory: %w", err))
		}
	}
	downloader := opts.Artifacts
	if downloader == nil {
		downloader = &qart.Downloader{}
	}
	commandLine, resolved, err := ep.ComputeCommand(ctx, opts.Parameters, storageDir, downloader)
	if err != nil {
		return fail(err)
	}

	tags := runTags(uri, entryPoint, backendName, opts.ParentRunID, fetched)
	runID, err := tracking.CreateRun(ctx, experimentID, tags)
	if err != nil {
		return fail(err)
	}
	for name, value := range resolved {
		if err := tracking.SetTag(ctx, runID, "quill.param."+name, value); err != nil {
			return fail(err)
		}
	}

	logger.Info("launching run", "run_id", runID, "entry_point", ep.Name, "backend", backendName)

	spec := qrunner.JobSpec{
		RunID:   runID,
		Command: env.Command(commandLine),
		WorkDir: fetched.Dir,
		Env:     map[string]string{"QUILL_EXPERIMENT_ID": experimentID},
		Image:   image,
	}
	if containerized {
		spec.Command = []string{"/bin/sh", "-c", commandLine}
	}
	if opts.LogDir != "" {
		spec.LogDir = filepath.Join(opts.LogDir, runID)
	}
	if fetched.Temporary {
		spec.CleanupDir = fetched.Root
	}

	submitted, err := backend.Submit(ctx, spec)
	if err != nil {
		// Submit already released the temporary directory.
		if setErr := tracking.UpdateRunStatus(ctx, runID, qtrack.StatusFailed); setErr != nil {
			logger.Warn("could not record failed run", "run_id", runID, "error", setErr)
		}
		return nil, err
	}
	if err := tracking.UpdateRunStatus(ctx, runID, qtrack.StatusRunning); err != nil {
		logger.Warn("could not record running state", "run_id", runID, "error", err)
	}

	return &ActiveRun{run: submitted, tracking: tracking, logger: logger}, nil
}

// resolveExperimentID maps the experiment selectors to a concrete id.
func resolveExperimentID(ctx context.Context, tracking qtrack.Store, name, id string) (string, error) {
	switch {
	case name != "" && id != "":
		return "", qerr.Executionf("Specify only one of 'experiment_name' or 'experiment_id'.")
	case id != "":
		return id, nil
	case name != "":
		exp, err := tracking.GetExperimentByName(ctx, name)
		if err != nil {
			return "", err
		}
		if exp != nil {
			return exp.ID, nil
		}
		return tracking.CreateExperiment(ctx, name)
	default:
		return qtrack.DefaultExperimentID, nil
	}
}

func runTags(uri, entryPoint, backendName, parentRunID string, fetched *qfetch.Fetched) map[string]string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	tags := map[string]string{
		qtrack.TagUser:       username,
		qtrack.TagSourceName: uri,
		qtrack.TagSourceType: qtrack.SourceTypeProject,
		qtrack.TagEntryPoint: entryPoint,
		qtrack.TagBackend:    backendName,
	}
	if parentRunID != "" {
		tags[qtrack.TagParentRunID] = parentRunID
	}
	if fetched.Branch != "" {
		tags[qtrack.TagGitBranch] = fetched.Branch
	}
	if fetched.RepoURL != "" {
		tags[qtrack.TagGitRepoURL] = fetched.RepoURL
	}
	return tags
}

// ActiveRun couples a submitted run with the tracking store so that the
// terminal state observed from the backend is recorded exactly once.
type ActiveRun struct {
	run      qrunner.SubmittedRun
	tracking qtrack.Store
	logger   *qlog.Logger
	recorded sync.Once
}

func (r *ActiveRun) RunID() string { return r.run.RunID() }

// GetStatus polls the backend without blocking.
func (r *ActiveRun) GetStatus() qrunner.Status { return r.run.GetStatus() }

// Wait blocks until the run terminates and records the terminal status.
func (r *ActiveRun) Wait(ctx context.Context) (qrunner.Status, error) {
	status, err := r.run.Wait(ctx)
	if err != nil {
		return status, err
	}
	r.record(status)
	return status, nil
}

// Cancel requests termination. Cancelling an already-terminal run is a
// no-op.
func (r *ActiveRun) Cancel() error { return r.run.Cancel() }

func (r *ActiveRun) record(status qrunner.Status) {
	if !status.Terminal() {
		return
	}
	r.recorded.Do(func() {
		if err := r.tracking.UpdateRunStatus(context.Background(), r.run.RunID(), string(status)); err != nil {
			r.logger.Warn("could not record terminal status", "run_id", r.run.RunID(), "error", err)
		}
	})
}
