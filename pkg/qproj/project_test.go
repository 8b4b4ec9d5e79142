package qproj

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProject(t *testing.T, declaration string, extraFiles ...string) string {
	t.Helper()
	dir := t.TempDir()
	if declaration != "" {
		if err := os.WriteFile(filepath.Join(dir, DeclarationFile), []byte(declaration), 0o644); err != nil {
			t.Fatalf("writing declaration: %v", err)
		}
	}
	for _, name := range extraFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# placeholder\n"), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

const sampleDeclaration = `
name: tumor-trainer
conda_env: env.yaml
entry_points:
  main:
    parameters:
      alpha: {type: float, default: 0.4}
      epochs: {type: string, default: "10"}
      data: path
    command: "python train.py --alpha {alpha} --epochs {epochs} --data {data}"
  validate:
    command: "python validate.py"
`

func TestLoad(t *testing.T) {
	dir := writeProject(t, sampleDeclaration, "env.yaml", "train.py")

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if project.Name != "tumor-trainer" {
		t.Errorf("Name = %q, want %q", project.Name, "tumor-trainer")
	}
	if project.CondaEnv != filepath.Join(dir, "env.yaml") {
		t.Errorf("CondaEnv = %q", project.CondaEnv)
	}
	names := project.EntryPointNames()
	if len(names) != 2 || names[0] != "main" || names[1] != "validate" {
		t.Errorf("EntryPointNames = %v", names)
	}

	ep, err := project.GetEntryPoint("main")
	if err != nil {
		t.Fatalf("GetEntryPoint failed: %v", err)
	}
	alpha := ep.Parameters["alpha"]
	if alpha == nil || alpha.Type != ParamFloat || alpha.Default == nil || *alpha.Default != "0.4" {
		t.Errorf("alpha parameter parsed incorrectly: %+v", alpha)
	}
	data := ep.Parameters["data"]
	if data == nil || data.Type != ParamPath || data.Default != nil {
		t.Errorf("shorthand parameter parsed incorrectly: %+v", data)
	}
}

func TestLoad_NoDeclaration(t *testing.T) {
	dir := writeProject(t, "", "train.py")

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if project.Name != filepath.Base(dir) {
		t.Errorf("Name = %q, want directory basename", project.Name)
	}
	if len(project.EntryPointNames()) != 0 {
		t.Errorf("expected no declared entry points, got %v", project.EntryPointNames())
	}
}

func TestLoad_CondaDefaultProbe(t *testing.T) {
	dir := writeProject(t, "name: plain\n", DefaultCondaFile)

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if project.CondaEnv != filepath.Join(dir, DefaultCondaFile) {
		t.Errorf("CondaEnv = %q, want the default probe result", project.CondaEnv)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	dir := writeProject(t, "conda_env: nope.yaml\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected an error for a missing environment file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_DockerImage(t *testing.T) {
	dir := writeProject(t, "docker_env:\n  image: acme/trainer:1.2\n")

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if project.DockerImage != "acme/trainer:1.2" {
		t.Errorf("DockerImage = %q", project.DockerImage)
	}
}

func TestLoad_UnsupportedParamType(t *testing.T) {
	dir := writeProject(t, `
entry_points:
  main:
    parameters:
      x: tensor
    command: "run {x}"
`)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected an error for an unsupported parameter type")
	}
	if !strings.Contains(err.Error(), "unsupported parameter type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetEntryPoint_SynthesizesRunnableFile(t *testing.T) {
	dir := writeProject(t, "", "train.py")

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ep, err := project.GetEntryPoint("train.py")
	if err != nil {
		t.Fatalf("GetEntryPoint failed: %v", err)
	}
	if ep.Command != "python train.py" {
		t.Errorf("Command = %q", ep.Command)
	}
}

func TestGetEntryPoint_Unknown(t *testing.T) {
	dir := writeProject(t, sampleDeclaration, "env.yaml")

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, err = project.GetEntryPoint("absent")
	if err == nil {
		t.Fatal("expected an error for an unknown entry point")
	}
	want := "could not find absent among entry points [main validate] or interpret absent as a runnable file"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("unexpected error: %v", err)
	}
}
