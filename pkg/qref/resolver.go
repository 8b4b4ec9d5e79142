// Package qref classifies project references and extracts subdirectory
// fragments. Classification is a pure function except for a filesystem probe
// that distinguishes plain local directories from local git repositories.
package qref

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/quillml/quill/pkg/qerr"
)

// Kind identifies how a project reference must be fetched.
type Kind string

const (
	KindLocalDir       Kind = "local_dir"
	KindArchive        Kind = "archive"      // local zip, plain path or file://
	KindHTTPArchive    Kind = "http_archive" // zip served over http(s)
	KindVersionControl Kind = "version_control"
)

// SubdirDelimiter separates a base reference from a subdirectory within it.
const SubdirDelimiter = "#"

// Reference is a parsed, classified project reference.
type Reference struct {
	Raw    string // the original URI, fragment included
	Base   string // normalized base (file:// stripped for local paths)
	Subdir string // optional subdirectory within the fetched root
	Kind   Kind
}

// SplitSubpath splits uri on the first fragment delimiter. A subdirectory
// segment that equals or begins with ".." is rejected; this applies to
// local and remote-repository references alike.
func SplitSubpath(uri string) (string, string, error) {
	if uri == "" {
		return "", "", qerr.InvalidReferencef("empty project URI")
	}
	base, subdir, _ := strings.Cut(uri, SubdirDelimiter)
	for _, seg := range strings.Split(subdir, "/") {
		if strings.HasPrefix(seg, "..") {
			return "", "", qerr.InvalidReferencef(
				"'..' is not allowed in project subdirectory paths (got %q)", subdir)
		}
	}
	return base, subdir, nil
}

// JoinSubpath reconstructs a reference from a base and a subdirectory.
func JoinSubpath(base, subdir string) string {
	if subdir == "" {
		return base
	}
	return base + SubdirDelimiter + subdir
}

// isZipURI reports whether the base reference points at a zip container.
func isZipURI(base string) bool {
	if u, err := url.Parse(base); err == nil && u.Path != "" {
		base = u.Path
	}
	return strings.HasSuffix(base, ".zip")
}

// looksLikeRemoteRepo matches repository host strings with no URL scheme,
// e.g. "git@github.com:org/repo.git".
func looksLikeRemoteRepo(base string) bool {
	return strings.HasPrefix(base, "git@") || strings.HasSuffix(base, ".git")
}

// Classify determines the fetch kind of a base reference (no fragment) and
// returns it with the normalized base. The classification order is total and
// fixed: an archive suffix always wins over any version-control marker, then
// scheme, then the local-repository probe.
func Classify(base string) (Kind, string) {
	scheme := ""
	if u, err := url.Parse(base); err == nil {
		scheme = u.Scheme
	}

	if isZipURI(base) {
		switch scheme {
		case "http", "https":
			return KindHTTPArchive, base
		default:
			return KindArchive, localPath(base)
		}
	}

	switch scheme {
	case "http", "https", "ssh", "git":
		return KindVersionControl, base
	case "", "file":
		if looksLikeRemoteRepo(base) && !pathExists(localPath(base)) {
			return KindVersionControl, base
		}
		p := localPath(base)
		if pathExists(filepath.Join(p, ".git")) {
			return KindVersionControl, p
		}
		return KindLocalDir, p
	default:
		return KindVersionControl, base
	}
}

// Parse splits, validates and classifies a raw project reference.
func Parse(uri string) (*Reference, error) {
	base, subdir, err := SplitSubpath(uri)
	if err != nil {
		return nil, err
	}
	if base == "" {
		return nil, qerr.InvalidReferencef("empty project URI")
	}
	kind, normalized := Classify(base)
	return &Reference{
		Raw:    uri,
		Base:   normalized,
		Subdir: subdir,
		Kind:   kind,
	}, nil
}

// localPath strips a file:// prefix, leaving a plain filesystem path.
func localPath(base string) string {
	return strings.TrimPrefix(base, "file://")
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
