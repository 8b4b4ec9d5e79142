package qart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DownloadArtifacts mirrors the artifact tree at artifactPath into dst and
// returns the local path of the downloaded file or directory.
//
// Stores sometimes include the queried path itself (or ".") in its own
// listing; such entries mean "this path is a file" and are never re-queried,
// so the recursion always terminates and each real file is fetched once.
func DownloadArtifacts(ctx context.Context, store Store, artifactPath, dst string) (string, error) {
	local := filepath.Join(dst, filepath.FromSlash(artifactPath))

	infos, err := store.List(ctx, artifactPath)
	if err != nil {
		return "", fmt.Errorf("listing artifacts at %q: %w", artifactPath, err)
	}

	content := infos[:0:0]
	for _, fi := range infos {
		if fi.Path == "." || fi.Path == artifactPath {
			continue
		}
		content = append(content, fi)
	}

	if len(content) == 0 {
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return "", err
		}
		if err := store.DownloadFile(ctx, artifactPath, local); err != nil {
			return "", fmt.Errorf("downloading artifact %q: %w", artifactPath, err)
		}
		return local, nil
	}

	if err := os.MkdirAll(local, 0o755); err != nil {
		return "", err
	}
	for _, fi := range content {
		if fi.IsDir {
			if _, err := DownloadArtifacts(ctx, store, fi.Path, dst); err != nil {
				return "", err
			}
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(fi.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := store.DownloadFile(ctx, fi.Path, target); err != nil {
			return "", fmt.Errorf("downloading artifact %q: %w", fi.Path, err)
		}
	}
	return local, nil
}
