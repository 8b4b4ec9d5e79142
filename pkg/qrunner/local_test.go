package qrunner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

func quietBackend() *LocalBackend {
	return &LocalBackend{Logger: qlog.NewQuiet()}
}

func TestLocalBackend_Submit(t *testing.T) {
	backend := quietBackend()
	logDir := filepath.Join(t.TempDir(), "logs")

	run, err := backend.Submit(context.Background(), JobSpec{
		RunID:   "run-1",
		Command: []string{"sh", "-c", "echo hello"},
		WorkDir: t.TempDir(),
		LogDir:  logDir,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if run.RunID() != "run-1" {
		t.Errorf("RunID = %q", run.RunID())
	}

	status, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status != StatusFinished {
		t.Errorf("status = %s, want %s", status, StatusFinished)
	}

	content, err := os.ReadFile(filepath.Join(logDir, "stdout.log"))
	if err != nil {
		t.Fatalf("reading stdout log: %v", err)
	}
	if !strings.Contains(string(content), "hello") {
		t.Errorf("stdout log = %q", content)
	}
}

func TestLocalBackend_FailedCommand(t *testing.T) {
	backend := quietBackend()

	run, err := backend.Submit(context.Background(), JobSpec{
		RunID:   "run-2",
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	status, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status != StatusFailed {
		t.Errorf("status = %s, want %s", status, StatusFailed)
	}
}

func TestLocalBackend_SpawnFailureCleansUp(t *testing.T) {
	backend := quietBackend()
	cleanupDir, err := os.MkdirTemp("", "quill-test-cleanup-")
	if err != nil {
		t.Fatalf("creating cleanup dir: %v", err)
	}

	_, err = backend.Submit(context.Background(), JobSpec{
		RunID:      "run-3",
		Command:    []string{"/no/such/binary"},
		CleanupDir: cleanupDir,
	})
	if err == nil {
		t.Fatal("expected a spawn failure")
	}
	if !qerr.IsCode(err, qerr.CodeExecution) {
		t.Errorf("spawn failure should carry the execution code, got %v", err)
	}
	if _, statErr := os.Stat(cleanupDir); !os.IsNotExist(statErr) {
		os.RemoveAll(cleanupDir)
		t.Error("spawn failure should release the temporary directory")
	}
}

func TestLocalBackend_EmptyCommandIsExecutionError(t *testing.T) {
	backend := quietBackend()

	_, err := backend.Submit(context.Background(), JobSpec{RunID: "run-empty"})
	if err == nil {
		t.Fatal("expected an error for an empty command")
	}
	if !qerr.IsCode(err, qerr.CodeExecution) {
		t.Errorf("empty command should carry the execution code, got %v", err)
	}
}

func TestLocalBackend_Cancel(t *testing.T) {
	backend := quietBackend()

	run, err := backend.Submit(context.Background(), JobSpec{
		RunID:   "run-4",
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := run.GetStatus(); got != StatusRunning {
		t.Errorf("status after submit = %s, want %s", got, StatusRunning)
	}

	if err := run.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	status, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status != StatusKilled {
		t.Errorf("status = %s, want %s", status, StatusKilled)
	}
}

func TestLocalBackend_CancelAfterTerminalIsNoOp(t *testing.T) {
	backend := quietBackend()

	run, err := backend.Submit(context.Background(), JobSpec{
		RunID:   "run-5",
		Command: []string{"true"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	status, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if status != StatusFinished {
		t.Fatalf("status = %s, want %s", status, StatusFinished)
	}

	if err := run.Cancel(); err != nil {
		t.Errorf("Cancel after termination should be a no-op, got %v", err)
	}
	if got := run.GetStatus(); got != StatusFinished {
		t.Errorf("status after late cancel = %s, want %s", got, StatusFinished)
	}
}

func TestLocalBackend_WaitHonorsContext(t *testing.T) {
	backend := quietBackend()

	run, err := backend.Submit(context.Background(), JobSpec{
		RunID:   "run-6",
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer func() {
		run.Cancel()
		run.Wait(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := run.Wait(ctx); err == nil {
		t.Error("Wait should surface context expiry while the run is in flight")
	}
}

func TestNewBackend_UnknownName(t *testing.T) {
	_, err := NewBackend("fluxcapacitor", BackendOptions{Logger: qlog.NewQuiet()})
	if err == nil {
		t.Fatal("expected an error for an unknown backend name")
	}
	if !strings.Contains(err.Error(), `unsupported backend "fluxcapacitor"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewBackend_KubernetesRequiresConfig(t *testing.T) {
	_, err := NewBackend(BackendKubernetes, BackendOptions{Logger: qlog.NewQuiet()})
	if err == nil {
		t.Fatal("expected an error without a kubernetes configuration")
	}
}
