package qrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/quillml/quill/pkg/qart"
	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

// LocalBackend executes runs as child processes of the current process.
type LocalBackend struct {
	Logger *qlog.Logger

	// Artifacts, when set, receives the run's log files after termination.
	Artifacts qart.Uploader
}

// Submit spawns the command. The returned handle is RUNNING on success;
// spawn failure cleans up the run's temporary directory and fails
// synchronously.
func (b *LocalBackend) Submit(_ context.Context, spec JobSpec) (SubmittedRun, error) {
	if len(spec.Command) == 0 {
		return nil, qerr.Executionf("empty command for run %s", spec.RunID)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "QUILL_RUN_ID="+spec.RunID)

	run := &localRun{
		id:         spec.RunID,
		cmd:        cmd,
		status:     StatusScheduled,
		done:       make(chan struct{}),
		cleanupDir: spec.CleanupDir,
		backend:    b,
		logDir:     spec.LogDir,
	}

	var logFiles []*os.File
	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
			run.releaseDir()
			return nil, qerr.Executionf("creating log directory: %v", err)
		}
		stdout, err := os.Create(filepath.Join(spec.LogDir, "stdout.log"))
		if err != nil {
			run.releaseDir()
			return nil, qerr.Executionf("creating log file: %v", err)
		}
		stderr, err := os.Create(filepath.Join(spec.LogDir, "stderr.log"))
		if err != nil {
			stdout.Close()
			run.releaseDir()
			return nil, qerr.Executionf("creating log file: %v", err)
		}
		cmd.Stdout, cmd.Stderr = stdout, stderr
		logFiles = []*os.File{stdout, stderr}
	} else {
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	}

	if b.Logger != nil {
		b.Logger.Info("launching run", "run_id", spec.RunID, "command", fmt.Sprint(spec.Command))
	}
	if err := cmd.Start(); err != nil {
		for _, f := range logFiles {
			f.Close()
		}
		run.releaseDir()
		return nil, qerr.Executionf("starting run command: %v", err)
	}

	run.mu.Lock()
	run.status = StatusRunning
	run.mu.Unlock()

	go run.monitor(logFiles)
	return run, nil
}

// localRun supervises one child process. The mutex guards the single
// RUNNING-to-terminal transition so a cancel can never race a natural exit
// into an inconsistent state.
type localRun struct {
	id         string
	cmd        *exec.Cmd
	cleanupDir string
	logDir     string
	backend    *LocalBackend

	mu     sync.Mutex
	status Status
	killed bool

	done chan struct{}
}

func (r *localRun) RunID() string { return r.id }

func (r *localRun) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *localRun) Wait(ctx context.Context) (Status, error) {
	select {
	case <-ctx.Done():
		return r.GetStatus(), ctx.Err()
	case <-r.done:
		return r.GetStatus(), nil
	}
}

// Cancel signals the process if the run is still in flight. Cancelling a
// terminal run is a no-op: a finished run never becomes killed.
func (r *localRun) Cancel() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	r.killed = true
	r.mu.Unlock()

	if r.cmd.Process != nil {
		return r.cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

func (r *localRun) monitor(logFiles []*os.File) {
	err := r.cmd.Wait()

	r.mu.Lock()
	switch {
	case r.killed:
		r.status = StatusKilled
	case err == nil:
		r.status = StatusFinished
	default:
		r.status = StatusFailed
	}
	final := r.status
	r.mu.Unlock()

	for _, f := range logFiles {
		f.Close()
	}
	r.uploadLogs()
	r.releaseDir()

	if r.backend.Logger != nil {
		r.backend.Logger.Info("run reached terminal state", "run_id", r.id, "status", string(final))
	}
	close(r.done)
}

// releaseDir removes the run's temporary fetched directory; it runs on every
// exit path, including spawn failure.
func (r *localRun) releaseDir() {
	if r.cleanupDir != "" {
		os.RemoveAll(r.cleanupDir)
	}
}

func (r *localRun) uploadLogs() {
	if r.backend.Artifacts == nil || r.logDir == "" {
		return
	}
	for _, name := range []string{"stdout.log", "stderr.log"} {
		f, err := os.Open(filepath.Join(r.logDir, name))
		if err != nil {
			continue
		}
		key := qart.RunArtifactKey(r.id, name)
		if err := r.backend.Artifacts.Upload(context.Background(), key, f, "text/plain"); err != nil && r.backend.Logger != nil {
			r.backend.Logger.Warn("uploading run log failed", "run_id", r.id, "file", name, "error", err.Error())
		}
		f.Close()
	}
}
