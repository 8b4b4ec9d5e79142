// Package qfetch materializes a classified project reference as a local
// working directory: plain directories are used in place, zip archives are
// extracted, version-controlled references are cloned and checked out.
package qfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qhttp"
	"github.com/quillml/quill/pkg/qref"
)

// Fetched is a local, runnable copy of a project. While Temporary is true the
// fetched root is owned exclusively by the caller and must be released with
// Cleanup once the run no longer needs it.
type Fetched struct {
	// Dir is the project directory, subdirectory fragment applied.
	Dir string

	// Root is the fetched root that Cleanup removes. Equal to Dir when the
	// reference had no subdirectory fragment.
	Root string

	Temporary bool

	// Branch and RepoURL are set when the source was version-controlled.
	Branch  string
	RepoURL string
}

// Cleanup removes the fetched root if this copy is temporary. Caller-owned
// directories are never removed.
func (f *Fetched) Cleanup() {
	if f == nil || !f.Temporary {
		return
	}
	_ = os.RemoveAll(f.Root)
}

// Fetcher downloads and extracts projects.
type Fetcher struct {
	// HTTP is the client used for remote archive downloads. A zero-value
	// client with default retry settings is used when nil.
	HTTP *qhttp.Client
}

// Fetch resolves a reference plus optional version into a local directory.
// forceTempDir forces even a plain local directory to be copied into a fresh
// temporary directory.
func (f *Fetcher) Fetch(ctx context.Context, ref *qref.Reference, version string, forceTempDir bool) (*Fetched, error) {
	fetched, err := f.fetchRoot(ctx, ref, version, forceTempDir)
	if err != nil {
		return nil, err
	}

	fetched.Dir = fetched.Root
	if ref.Subdir != "" {
		fetched.Dir = filepath.Join(fetched.Root, ref.Subdir)
	}
	if info, err := os.Stat(fetched.Dir); err != nil || !info.IsDir() {
		fetched.Cleanup()
		return nil, qerr.Executionf("could not find subdirectory %s of %s", ref.Subdir, ref.Base)
	}
	return fetched, nil
}

func (f *Fetcher) fetchRoot(ctx context.Context, ref *qref.Reference, version string, forceTempDir bool) (*Fetched, error) {
	switch ref.Kind {
	case qref.KindLocalDir:
		return f.fetchLocalDir(ref, version, forceTempDir)
	case qref.KindArchive:
		return f.extractLocalArchive(ref.Base)
	case qref.KindHTTPArchive:
		return f.downloadAndExtractArchive(ctx, ref.Base)
	case qref.KindVersionControl:
		return f.fetchRepo(ctx, ref.Base, version)
	default:
		return nil, qerr.InvalidReferencef("unsupported project reference kind %q", ref.Kind)
	}
}

func (f *Fetcher) fetchLocalDir(ref *qref.Reference, version string, forceTempDir bool) (*Fetched, error) {
	if version != "" {
		return nil, qerr.Executionf(
			"setting a version is only supported for version-controlled project references (got version %q for %s)",
			version, ref.Base)
	}
	abs, err := filepath.Abs(ref.Base)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	if info, statErr := os.Stat(abs); statErr != nil || !info.IsDir() {
		return nil, qerr.Executionf("project directory %s does not exist", abs)
	}
	if !forceTempDir {
		return &Fetched{Root: abs}, nil
	}

	tmp, err := tempProjectDir()
	if err != nil {
		return nil, err
	}
	if err := copyTree(abs, tmp); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("copying project into temporary directory: %w", err)
	}
	return &Fetched{Root: tmp, Temporary: true}, nil
}

func (f *Fetcher) extractLocalArchive(path string) (*Fetched, error) {
	path = filepath.Clean(path)
	tmp, err := tempProjectDir()
	if err != nil {
		return nil, err
	}
	if err := unzip(path, tmp); err != nil {
		os.RemoveAll(tmp)
		return nil, qerr.Executionf("extracting project archive %s: %v", path, err)
	}
	return &Fetched{Root: tmp, Temporary: true}, nil
}

func (f *Fetcher) downloadAndExtractArchive(ctx context.Context, uri string) (*Fetched, error) {
	client := f.HTTP
	if client == nil {
		client = qhttp.NewClient(qhttp.HostCreds{})
	}
	resp, err := client.Request(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("downloading project archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, qerr.Executionf("unable to download project archive %s (status %d)", uri, resp.StatusCode)
	}

	zipFile, err := os.CreateTemp("", "quill-archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("creating archive scratch file: %w", err)
	}
	defer os.Remove(zipFile.Name())
	if _, err := io.Copy(zipFile, resp.Body); err != nil {
		zipFile.Close()
		return nil, fmt.Errorf("downloading project archive: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return nil, fmt.Errorf("writing archive scratch file: %w", err)
	}

	return f.extractLocalArchive(zipFile.Name())
}

func tempProjectDir() (string, error) {
	tmp, err := os.MkdirTemp("", "quill-project-")
	if err != nil {
		return "", fmt.Errorf("creating temporary project directory: %w", err)
	}
	return tmp, nil
}
