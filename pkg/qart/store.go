// Package qart provides the artifact storage collaborator: listing and
// downloading files from a remote blob namespace, with S3-compatible and
// local-filesystem implementations.
package qart

import (
	"context"
	"errors"
	"io"
)

// FileInfo describes one entry of an artifact listing.
type FileInfo struct {
	Path  string `json:"path"` // store-relative path
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Store is the read surface of an artifact store.
type Store interface {
	// List returns the entries under path. Listing a file returns either an
	// empty slice or an entry equal to path itself, depending on the backing
	// store.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// DownloadFile copies a single remote file to localPath.
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// Uploader is implemented by stores that also accept writes; run logs are
// pushed through it after a run reaches a terminal state.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
}

// Common errors
var (
	ErrNotFound = errors.New("artifact not found")
)

// RunArtifactPrefix returns the store prefix for a run's artifacts.
func RunArtifactPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// RunArtifactKey returns the full store key for an artifact.
func RunArtifactKey(runID, filename string) string {
	return RunArtifactPrefix(runID) + filename
}
