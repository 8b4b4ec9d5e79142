package qart

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements Store over a directory tree. It backs file:// artifact
// locations and tests.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) resolve(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path))
}

// List returns the entries directly under path; listing a plain file returns
// an empty slice.
func (s *LocalStore) List(_ context.Context, path string) ([]FileInfo, error) {
	full := s.resolve(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		rel := entry.Name()
		if path != "" {
			rel = path + "/" + entry.Name()
		}
		fi := FileInfo{Path: rel, IsDir: entry.IsDir()}
		if !entry.IsDir() {
			if stat, statErr := entry.Info(); statErr == nil {
				fi.Size = stat.Size()
			}
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

// DownloadFile copies one file out of the store.
func (s *LocalStore) DownloadFile(_ context.Context, remotePath, localPath string) error {
	in, err := os.Open(s.resolve(remotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Upload writes data into the store tree.
func (s *LocalStore) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	full := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	out, err := os.Create(full)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
