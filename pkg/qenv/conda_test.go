package qenv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandle_AmbientCommand(t *testing.T) {
	h := &Handle{}
	if h.IsIsolated() {
		t.Error("zero-value handle should be ambient")
	}
	got := h.Command("python train.py --alpha 0.4")
	want := []string{"bash", "-c", "python train.py --alpha 0.4"}
	if len(got) != len(want) {
		t.Fatalf("Command = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHandle_IsolatedCommand(t *testing.T) {
	h := &Handle{Name: "quill-abc", activate: "/opt/conda/bin/activate"}
	got := h.Command("python train.py")
	if len(got) != 3 || got[0] != "bash" || got[1] != "-c" {
		t.Fatalf("Command = %v", got)
	}
	if got[2] != "source /opt/conda/bin/activate quill-abc && python train.py" {
		t.Errorf("command line = %q", got[2])
	}
}

func TestCondaExecutable_ResolutionOrder(t *testing.T) {
	t.Setenv(CondaHomeEnvVar, "")
	t.Setenv(CondaExeEnvVar, "")

	p := &Preparer{CondaHome: "/opt/custom-conda"}
	if got := p.CondaExecutable("conda"); got != filepath.Join("/opt/custom-conda", "bin", "conda") {
		t.Errorf("configured root: got %q", got)
	}

	p = &Preparer{}
	t.Setenv(CondaHomeEnvVar, "/opt/env-conda")
	if got := p.CondaExecutable("conda"); got != filepath.Join("/opt/env-conda", "bin", "conda") {
		t.Errorf("%s lookup: got %q", CondaHomeEnvVar, got)
	}

	t.Setenv(CondaHomeEnvVar, "")
	t.Setenv(CondaExeEnvVar, "/opt/miniconda/bin/conda")
	if got := p.CondaExecutable("activate"); got != filepath.Join("/opt/miniconda/bin", "activate") {
		t.Errorf("%s sibling lookup: got %q", CondaExeEnvVar, got)
	}

	t.Setenv(CondaExeEnvVar, "")
	if got := p.CondaExecutable("conda"); got != "conda" {
		t.Errorf("bare fallback: got %q", got)
	}
}

func TestEnvironmentName_Deterministic(t *testing.T) {
	spec := filepath.Join(t.TempDir(), "conda.yaml")
	if err := os.WriteFile(spec, []byte("dependencies:\n- python=3.11\n"), 0o644); err != nil {
		t.Fatalf("writing spec: %v", err)
	}

	first, err := environmentName(spec)
	if err != nil {
		t.Fatalf("environmentName failed: %v", err)
	}
	second, err := environmentName(spec)
	if err != nil {
		t.Fatalf("environmentName failed: %v", err)
	}
	if first != second {
		t.Errorf("same spec produced different names: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "quill-") {
		t.Errorf("name = %q, want quill- prefix", first)
	}

	if err := os.WriteFile(spec, []byte("dependencies:\n- python=3.12\n"), 0o644); err != nil {
		t.Fatalf("rewriting spec: %v", err)
	}
	changed, err := environmentName(spec)
	if err != nil {
		t.Fatalf("environmentName failed: %v", err)
	}
	if changed == first {
		t.Error("changed spec should produce a different name")
	}
}

func TestEnvironmentName_NoSpec(t *testing.T) {
	name, err := environmentName("")
	if err != nil {
		t.Fatalf("environmentName failed: %v", err)
	}
	if name != "quill-base" {
		t.Errorf("name = %q, want quill-base", name)
	}
}

func TestPrepare_AmbientSkipsConda(t *testing.T) {
	p := &Preparer{CondaHome: "/definitely/not/installed"}

	h, err := p.Prepare(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if h.IsIsolated() {
		t.Error("ambient prepare should return the ambient handle")
	}
}

func TestPrepare_MissingCondaExecutable(t *testing.T) {
	p := &Preparer{CondaHome: filepath.Join(t.TempDir(), "absent")}

	_, err := p.Prepare(context.Background(), "", true)
	if err == nil {
		t.Fatal("expected an error when the conda executable is missing")
	}
	if !strings.Contains(err.Error(), "could not find conda executable") {
		t.Errorf("unexpected error: %v", err)
	}
}
