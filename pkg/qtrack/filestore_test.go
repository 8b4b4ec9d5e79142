package qtrack

import (
	"context"
	"testing"
)

func TestFileStore_DefaultExperiment(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	exp, err := store.GetExperimentByName(context.Background(), "Default")
	if err != nil {
		t.Fatalf("GetExperimentByName failed: %v", err)
	}
	if exp == nil || exp.ID != DefaultExperimentID {
		t.Errorf("default experiment = %+v, want id %s", exp, DefaultExperimentID)
	}
}

func TestFileStore_CreateExperiment(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	id, err := store.CreateExperiment(ctx, "tuning")
	if err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if id == DefaultExperimentID {
		t.Error("new experiment should not reuse the default id")
	}

	// Unknown names return nil without an error.
	exp, err := store.GetExperimentByName(ctx, "absent")
	if err != nil {
		t.Fatalf("GetExperimentByName failed: %v", err)
	}
	if exp != nil {
		t.Errorf("unknown name returned %+v", exp)
	}

	// The index survives reopening the store.
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	exp, err = reopened.GetExperimentByName(ctx, "tuning")
	if err != nil {
		t.Fatalf("GetExperimentByName failed: %v", err)
	}
	if exp == nil || exp.ID != id {
		t.Errorf("reopened store lost the experiment: %+v", exp)
	}
}

func TestFileStore_RunLifecycle(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	runID, err := store.CreateRun(ctx, DefaultExperimentID, map[string]string{
		TagEntryPoint: "main",
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	record, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if record.Status != StatusScheduled {
		t.Errorf("initial status = %s, want %s", record.Status, StatusScheduled)
	}
	if record.Tags[TagEntryPoint] != "main" {
		t.Errorf("tags = %v", record.Tags)
	}
	if record.EndedAt != nil {
		t.Error("EndedAt should be unset before termination")
	}

	if err := store.SetTag(ctx, runID, TagBackend, "local"); err != nil {
		t.Fatalf("SetTag failed: %v", err)
	}
	if err := store.UpdateRunStatus(ctx, runID, StatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := store.UpdateRunStatus(ctx, runID, StatusFinished); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	record, err = store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if record.Status != StatusFinished {
		t.Errorf("final status = %s, want %s", record.Status, StatusFinished)
	}
	if record.Tags[TagBackend] != "local" {
		t.Errorf("tags = %v", record.Tags)
	}
	if record.EndedAt == nil {
		t.Error("terminal status should set EndedAt")
	}
}

func TestFileStore_UnknownRun(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.UpdateRunStatus(context.Background(), "no-such-run", StatusFailed); err == nil {
		t.Error("updating an unknown run should fail")
	}
}
