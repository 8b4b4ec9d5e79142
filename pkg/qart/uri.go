package qart

import (
	"context"
	"net/url"
	"strings"

	"github.com/quillml/quill/pkg/qerr"
)

// Downloader resolves artifact URIs (s3://bucket/path, file:///path, plain
// paths) to a Store and mirrors their contents locally. It satisfies the
// ArtifactDownloader surface consumed by the command builder for path-typed
// parameters.
type Downloader struct {
	// S3 supplies access configuration for s3:// locations; Bucket is taken
	// from the URI.
	S3 S3Config
}

// Download fetches the artifacts at uri into dst, returning the local path.
func (d *Downloader) Download(ctx context.Context, uri, dst string) (string, error) {
	store, path, err := d.resolve(uri)
	if err != nil {
		return "", err
	}
	return DownloadArtifacts(ctx, store, path, dst)
}

func (d *Downloader) resolve(uri string) (Store, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", qerr.Executionf("unparsable artifact location %q: %v", uri, err)
	}
	switch u.Scheme {
	case "s3":
		cfg := d.S3
		cfg.Bucket = u.Host
		store, err := NewS3Store(cfg)
		if err != nil {
			return nil, "", err
		}
		return store, strings.TrimPrefix(u.Path, "/"), nil
	case "file":
		return NewLocalStore("/"), strings.TrimPrefix(u.Path, "/"), nil
	case "":
		return NewLocalStore("/"), strings.TrimPrefix(uri, "/"), nil
	default:
		return nil, "", qerr.Executionf("unsupported artifact location scheme %q in %s", u.Scheme, uri)
	}
}
