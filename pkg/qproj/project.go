// Package qproj parses a project's declaration file (quill.yaml) and builds
// entry-point command lines from typed, validated run parameters.
package qproj

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quillml/quill/pkg/qerr"
)

// DeclarationFile is the project declaration filename looked up at the
// project root.
const DeclarationFile = "quill.yaml"

// DefaultCondaFile is the dependency spec consulted when the declaration
// does not name one.
const DefaultCondaFile = "conda.yaml"

// Project is the parsed, immutable declaration of a fetched project.
type Project struct {
	Name        string
	Dir         string
	CondaEnv    string // absolute path to the dependency spec, "" if none
	DockerImage string
	entryPoints map[string]*EntryPoint
}

type declaration struct {
	Name        string               `yaml:"name"`
	CondaEnv    string               `yaml:"conda_env"`
	DockerEnv   dockerEnv            `yaml:"docker_env"`
	EntryPoints map[string]entryDecl `yaml:"entry_points"`
}

type dockerEnv struct {
	Image string `yaml:"image"`
}

type entryDecl struct {
	Parameters map[string]paramDecl `yaml:"parameters"`
	Command    string               `yaml:"command"`
}

// paramDecl accepts either shorthand ("alpha: float") or the full form
// ("alpha: {type: float, default: 0.4}").
type paramDecl struct {
	Type    string
	Default *string
}

func (p *paramDecl) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Type)
	}
	var full struct {
		Type    string    `yaml:"type"`
		Default yaml.Node `yaml:"default"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	p.Type = full.Type
	if !full.Default.IsZero() {
		var value string
		if err := full.Default.Decode(&value); err != nil {
			return err
		}
		p.Default = &value
	}
	return nil
}

// Load parses the declaration file in dir. A project without a declaration
// file is valid; it exposes no declared entry points but file-based entry
// points can still be synthesized.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}
	project := &Project{
		Name:        filepath.Base(abs),
		Dir:         abs,
		entryPoints: map[string]*EntryPoint{},
	}

	data, err := os.ReadFile(filepath.Join(abs, DeclarationFile))
	if os.IsNotExist(err) {
		project.applyCondaDefault()
		return project, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DeclarationFile, err)
	}

	var decl declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, qerr.Executionf("malformed %s in %s: %v", DeclarationFile, abs, err)
	}

	if decl.Name != "" {
		project.Name = decl.Name
	}
	project.DockerImage = decl.DockerEnv.Image
	if decl.CondaEnv != "" {
		project.CondaEnv = filepath.Join(abs, decl.CondaEnv)
		if _, err := os.Stat(project.CondaEnv); err != nil {
			return nil, qerr.Executionf("project environment file %s not found", project.CondaEnv)
		}
	} else {
		project.applyCondaDefault()
	}

	for name, ep := range decl.EntryPoints {
		entry := &EntryPoint{
			Name:       name,
			Command:    ep.Command,
			Parameters: map[string]*Parameter{},
		}
		for pname, pd := range ep.Parameters {
			ptype, err := parseParamType(pd.Type)
			if err != nil {
				return nil, qerr.Executionf("entry point %s, parameter %s: %v", name, pname, err)
			}
			entry.Parameters[pname] = &Parameter{
				Name:    pname,
				Type:    ptype,
				Default: pd.Default,
			}
		}
		project.entryPoints[name] = entry
	}
	return project, nil
}

func (p *Project) applyCondaDefault() {
	candidate := filepath.Join(p.Dir, DefaultCondaFile)
	if _, err := os.Stat(candidate); err == nil {
		p.CondaEnv = candidate
	}
}

// EntryPointNames lists declared entry points in sorted order.
func (p *Project) EntryPointNames() []string {
	names := make([]string, 0, len(p.entryPoints))
	for name := range p.entryPoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetEntryPoint returns the declared entry point with the given name, or
// synthesizes one when the name is a runnable file present in the project
// (".py" and ".sh" are recognized). Synthesized entry points accept arbitrary
// parameters, appended as --key value flags.
func (p *Project) GetEntryPoint(name string) (*EntryPoint, error) {
	if ep, ok := p.entryPoints[name]; ok {
		return ep, nil
	}

	interpreter := ""
	switch {
	case strings.HasSuffix(name, ".py"):
		interpreter = "python"
	case strings.HasSuffix(name, ".sh"):
		interpreter = "sh"
	}
	if interpreter != "" {
		if _, err := os.Stat(filepath.Join(p.Dir, name)); err == nil {
			return &EntryPoint{
				Name:        name,
				Command:     interpreter + " " + name,
				Parameters:  map[string]*Parameter{},
				allowExtras: true,
			}, nil
		}
	}
	return nil, qerr.Executionf(
		"could not find %s among entry points %v or interpret %s as a runnable file",
		name, p.EntryPointNames(), name)
}
