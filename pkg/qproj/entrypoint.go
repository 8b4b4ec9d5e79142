package qproj

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/quillml/quill/pkg/qerr"
)

// ParamType is the declared type of an entry-point parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamFloat  ParamType = "float"
	ParamPath   ParamType = "path"
	ParamURI    ParamType = "uri"
)

func parseParamType(s string) (ParamType, error) {
	switch ParamType(s) {
	case ParamString, ParamFloat, ParamPath, ParamURI:
		return ParamType(s), nil
	case "":
		return ParamString, nil
	default:
		return "", qerr.Executionf("unsupported parameter type %q", s)
	}
}

// Parameter is one typed parameter of an entry point.
type Parameter struct {
	Name    string
	Type    ParamType
	Default *string
}

// EntryPoint is a named command template plus its parameter schema.
type EntryPoint struct {
	Name       string
	Command    string
	Parameters map[string]*Parameter

	// allowExtras is set on synthesized file entry points, which have no
	// declared schema and take arbitrary --key value flags.
	allowExtras bool
}

// ArtifactDownloader resolves a remote artifact URI into a local copy under
// dst, returning the local path.
type ArtifactDownloader interface {
	Download(ctx context.Context, uri, dst string) (string, error)
}

// ComputeCommand validates and resolves userParams against the schema and
// substitutes them into the command template, returning the final command
// line plus the resolved parameter values for run tagging.
//
// Every declared parameter must be supplied or carry a default. Supplying a
// parameter the schema does not declare is fatal. Remote path-typed values
// are downloaded into storageDir before substitution.
func (e *EntryPoint) ComputeCommand(ctx context.Context, userParams map[string]string, storageDir string, downloader ArtifactDownloader) (string, map[string]string, error) {
	resolved, err := e.computeParameters(ctx, userParams, storageDir, downloader)
	if err != nil {
		return "", nil, err
	}

	command := e.Command
	for name, value := range resolved {
		command = strings.ReplaceAll(command, "{"+name+"}", shellescape.Quote(value))
	}

	if e.allowExtras {
		extras := make([]string, 0, len(userParams))
		for name := range userParams {
			extras = append(extras, name)
		}
		sort.Strings(extras)
		for _, name := range extras {
			command += " --" + name + " " + shellescape.Quote(userParams[name])
			resolved[name] = userParams[name]
		}
	}
	return command, resolved, nil
}

func (e *EntryPoint) computeParameters(ctx context.Context, userParams map[string]string, storageDir string, downloader ArtifactDownloader) (map[string]string, error) {
	var missing []string
	for name, param := range e.Parameters {
		if _, ok := userParams[name]; !ok && param.Default == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, qerr.Executionf("no value given for missing parameters: %s",
			strings.Join(missing, ", "))
	}

	if !e.allowExtras {
		for name := range userParams {
			if _, ok := e.Parameters[name]; !ok {
				return nil, qerr.Executionf("unknown parameter %q for entry point %s", name, e.Name)
			}
		}
	}

	resolved := map[string]string{}
	for name, param := range e.Parameters {
		value, ok := userParams[name]
		if !ok {
			value = *param.Default
		}
		final, err := param.computeValue(ctx, value, storageDir, downloader)
		if err != nil {
			return nil, err
		}
		resolved[name] = final
	}
	return resolved, nil
}

func (p *Parameter) computeValue(ctx context.Context, value, storageDir string, downloader ArtifactDownloader) (string, error) {
	switch p.Type {
	case ParamFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", qerr.Executionf("parameter %s must be a float (got %q)", p.Name, value)
		}
		return value, nil
	case ParamPath:
		return p.computeLocalValue(ctx, value, storageDir, downloader)
	case ParamURI:
		if isRemoteURI(value) {
			return value, nil
		}
		return p.localPathValue(value)
	default:
		return value, nil
	}
}

// computeLocalValue guarantees a local path: remote artifact locations are
// downloaded into a parameter-scoped subdirectory of storageDir first.
func (p *Parameter) computeLocalValue(ctx context.Context, value, storageDir string, downloader ArtifactDownloader) (string, error) {
	if !isRemoteURI(value) {
		return p.localPathValue(value)
	}
	if downloader == nil {
		return "", qerr.Executionf(
			"parameter %s points to remote artifacts (%s) but no artifact store is configured", p.Name, value)
	}
	dst := filepath.Join(storageDir, p.Name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", qerr.Executionf("creating download directory for parameter %s: %v", p.Name, err)
	}
	local, err := downloader.Download(ctx, value, dst)
	if err != nil {
		return "", qerr.Executionf("downloading artifacts for parameter %s from %s: %v", p.Name, value, err)
	}
	return local, nil
}

func (p *Parameter) localPathValue(value string) (string, error) {
	abs, err := filepath.Abs(strings.TrimPrefix(value, "file://"))
	if err != nil {
		return "", qerr.Executionf("resolving path parameter %s: %v", p.Name, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", qerr.Executionf("parameter %s: path %s does not exist", p.Name, abs)
	}
	return abs, nil
}

// isRemoteURI reports whether value names a non-local artifact location.
func isRemoteURI(value string) bool {
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1
}
