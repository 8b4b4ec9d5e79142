// Package qenv prepares the execution environment for a project run: either
// the ambient environment, or an isolated conda environment derived
// deterministically from the project's dependency spec so repeated runs
// reuse it.
package qenv

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

// CondaHomeEnvVar points at a conda install root. When unset the conda
// binary is located via CondaExeEnvVar or the executable search path.
const CondaHomeEnvVar = "QUILL_CONDA_HOME"

// CondaExeEnvVar is the conventional variable conda itself exports.
const CondaExeEnvVar = "CONDA_EXE"

const envNamePrefix = "quill-"

// Handle represents a prepared execution environment. The zero value is the
// ambient environment.
type Handle struct {
	// Name is the isolated environment name, "" for ambient.
	Name string

	activate string // path to the activation script
}

// IsIsolated reports whether the handle names an isolated environment.
func (h *Handle) IsIsolated() bool {
	return h != nil && h.Name != ""
}

// Command wraps a shell command line into an argument vector that executes
// it inside the environment.
func (h *Handle) Command(commandLine string) []string {
	if !h.IsIsolated() {
		return []string{"bash", "-c", commandLine}
	}
	return []string{"bash", "-c", fmt.Sprintf("source %s %s && %s", h.activate, h.Name, commandLine)}
}

// Preparer creates isolated environments via an external conda-compatible
// manager.
type Preparer struct {
	// CondaHome overrides the install-root lookup; empty means consult
	// CondaHomeEnvVar, then CondaExeEnvVar, then PATH.
	CondaHome string

	Logger *qlog.Logger
}

// CondaExecutable resolves the path of a binary (or sibling script such as
// "activate") belonging to the conda install. Resolution order: configured
// install root, CondaHomeEnvVar, CondaExeEnvVar's directory, bare name for
// PATH lookup.
func (p *Preparer) CondaExecutable(name string) string {
	home := p.CondaHome
	if home == "" {
		home = os.Getenv(CondaHomeEnvVar)
	}
	if home != "" {
		return filepath.Join(home, "bin", name)
	}
	if exe := os.Getenv(CondaExeEnvVar); exe != "" {
		return filepath.Join(filepath.Dir(exe), name)
	}
	return name
}

// Prepare guarantees an execution environment for the project. With
// useIsolatedEnv false it returns the ambient handle without side effects.
// Otherwise the conda binary must be discoverable; the environment is
// created from condaSpecPath (which may be empty) unless one with the same
// content hash already exists.
func (p *Preparer) Prepare(ctx context.Context, condaSpecPath string, useIsolatedEnv bool) (*Handle, error) {
	if !useIsolatedEnv {
		return &Handle{}, nil
	}

	condaPath := p.CondaExecutable("conda")
	if _, err := exec.LookPath(condaPath); err != nil {
		return nil, qerr.Executionf(
			"could not find conda executable at %s: ensure conda is installed and set %s to its install root",
			condaPath, CondaHomeEnvVar)
	}

	name, err := environmentName(condaSpecPath)
	if err != nil {
		return nil, err
	}
	handle := &Handle{Name: name, activate: p.CondaExecutable("activate")}

	exists, err := p.environmentExists(ctx, condaPath, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return handle, nil
	}

	if p.Logger != nil {
		p.Logger.Info("creating conda environment", "name", name)
	}
	var cmd *exec.Cmd
	if condaSpecPath != "" {
		cmd = exec.CommandContext(ctx, condaPath, "env", "create", "-n", name, "--file", condaSpecPath)
	} else {
		cmd = exec.CommandContext(ctx, condaPath, "create", "--yes", "-n", name, "python")
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, qerr.Executionf("creating conda environment %s failed: %v\n%s", name, err, out)
	}
	return handle, nil
}

// environmentName derives a deterministic environment id from the dependency
// spec content so identical specs map to the same environment.
func environmentName(condaSpecPath string) (string, error) {
	if condaSpecPath == "" {
		return envNamePrefix + "base", nil
	}
	data, err := os.ReadFile(condaSpecPath)
	if err != nil {
		return "", qerr.Executionf("reading environment spec %s: %v", condaSpecPath, err)
	}
	sum := sha1.Sum(data)
	return envNamePrefix + hex.EncodeToString(sum[:]), nil
}

func (p *Preparer) environmentExists(ctx context.Context, condaPath, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, condaPath, "env", "list", "--json").Output()
	if err != nil {
		return false, qerr.Executionf("listing conda environments: %v", err)
	}
	var listing struct {
		Envs []string `json:"envs"`
	}
	if err := json.Unmarshal(out, &listing); err != nil {
		return false, qerr.Executionf("parsing conda environment listing: %v", err)
	}
	for _, env := range listing.Envs {
		if filepath.Base(env) == name {
			return true, nil
		}
	}
	return false, nil
}
