package qref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quillml/quill/pkg/qerr"
)

func TestSplitSubpath(t *testing.T) {
	tests := []struct {
		uri    string
		base   string
		subdir string
	}{
		{"https://github.com/org/repo.git#subdir", "https://github.com/org/repo.git", "subdir"},
		{"/tmp/project", "/tmp/project", ""},
		{"/tmp/project#examples/sklearn", "/tmp/project", "examples/sklearn"},
		{"https://example.com/bundle.zip#a/b/c", "https://example.com/bundle.zip", "a/b/c"},
	}

	for _, tt := range tests {
		base, subdir, err := SplitSubpath(tt.uri)
		if err != nil {
			t.Fatalf("SplitSubpath(%q) failed: %v", tt.uri, err)
		}
		if base != tt.base || subdir != tt.subdir {
			t.Errorf("SplitSubpath(%q) = (%q, %q), want (%q, %q)", tt.uri, base, subdir, tt.base, tt.subdir)
		}
		if got := JoinSubpath(base, subdir); got != tt.uri {
			t.Errorf("JoinSubpath(%q, %q) = %q, want %q", base, subdir, got, tt.uri)
		}
	}
}

func TestSplitSubpath_RejectsParentTraversal(t *testing.T) {
	uris := []string{
		"https://github.com/org/repo.git#..",
		"https://github.com/org/repo.git#../outside",
		"/tmp/project#sub/../../etc",
		"/tmp/project#..foo/bar",
		"https://github.com/org/repo.git#sub/..hidden",
	}
	for _, uri := range uris {
		_, _, err := SplitSubpath(uri)
		if err == nil {
			t.Errorf("SplitSubpath(%q) should have failed", uri)
		}
		if !qerr.IsCode(err, qerr.CodeInvalidReference) {
			t.Errorf("SplitSubpath(%q) error should carry the invalid_reference code, got %v", uri, err)
		}
	}
}

func TestSplitSubpath_EmptyURI(t *testing.T) {
	if _, _, err := SplitSubpath(""); err == nil {
		t.Fatal("expected an error for the empty URI")
	}
}

func TestClassify_ZipSuffixWins(t *testing.T) {
	tests := []struct {
		base string
		kind Kind
	}{
		{"https://example.com/bundle.zip", KindHTTPArchive},
		{"http://example.com/bundle.zip", KindHTTPArchive},
		{"/tmp/bundle.zip", KindArchive},
		{"file:///tmp/bundle.zip", KindArchive},
		{"https://example.com/bundle.zip?av=123&def=456", KindHTTPArchive},
		{"https://example.com/bundle", KindVersionControl},
		{"bundle.zip", KindArchive},
	}
	for _, tt := range tests {
		kind, _ := Classify(tt.base)
		if kind != tt.kind {
			t.Errorf("Classify(%q) = %s, want %s", tt.base, kind, tt.kind)
		}
	}
}

func TestClassify_RemoteRepositories(t *testing.T) {
	tests := []string{
		"https://github.com/org/repo",
		"https://github.com/org/repo.git",
		"git@github.com:org/repo.git",
		"ssh://git@github.com/org/repo.git",
	}
	for _, base := range tests {
		kind, _ := Classify(base)
		if kind != KindVersionControl {
			t.Errorf("Classify(%q) = %s, want %s", base, kind, KindVersionControl)
		}
	}
}

func TestClassify_LocalDirectory(t *testing.T) {
	dir := t.TempDir()

	kind, normalized := Classify(dir)
	if kind != KindLocalDir {
		t.Fatalf("Classify(%q) = %s, want %s", dir, kind, KindLocalDir)
	}
	if normalized != dir {
		t.Errorf("normalized base = %q, want %q", normalized, dir)
	}

	kind, normalized = Classify("file://" + dir)
	if kind != KindLocalDir {
		t.Errorf("Classify(file://%s) = %s, want %s", dir, kind, KindLocalDir)
	}
	if normalized != dir {
		t.Errorf("file:// normalized base = %q, want %q", normalized, dir)
	}
}

func TestClassify_LocalGitRepository(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("creating .git dir: %v", err)
	}

	kind, _ := Classify(dir)
	if kind != KindVersionControl {
		t.Errorf("Classify(%q) = %s, want %s", dir, kind, KindVersionControl)
	}
}

func TestParse(t *testing.T) {
	dir := t.TempDir()

	ref, err := Parse(dir + "#examples")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ref.Kind != KindLocalDir {
		t.Errorf("Kind = %s, want %s", ref.Kind, KindLocalDir)
	}
	if ref.Base != dir {
		t.Errorf("Base = %q, want %q", ref.Base, dir)
	}
	if ref.Subdir != "examples" {
		t.Errorf("Subdir = %q, want %q", ref.Subdir, "examples")
	}

	if _, err := Parse("#onlyfragment"); err == nil {
		t.Error("Parse with empty base should fail")
	}
}
