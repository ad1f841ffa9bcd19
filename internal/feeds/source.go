// ABOUTME: Feed document sources addressed by URI: local files, HTTP and GCS
// ABOUTME: Each Source yields a fresh reader per fetch so updaters can poll

package feeds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/hikmaai-io/hikmaai-lens/internal/gcs"
)

// Source yields the raw bytes of a feed document.
type Source interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// ObjectOpener reads objects from a bucket. *gcs.Client satisfies it.
type ObjectOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

var _ ObjectOpener = (*gcs.Client)(nil)

// SourceOptions supplies the clients remote sources need.
type SourceOptions struct {
	Downloader *Downloader

	// GCS is required for gs:// URIs.
	GCS ObjectOpener
}

// ParseSource returns the Source for uri.
// Plain paths and file:// URIs read the local filesystem.
func ParseSource(uri string, opts SourceOptions) (Source, error) {
	switch {
	case uri == "":
		return nil, fmt.Errorf("empty feed URI")
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		d := opts.Downloader
		if d == nil {
			d = NewDownloader(nil)
		}
		return &HTTPSource{URL: uri, downloader: d}, nil
	case strings.HasPrefix(uri, "gs://"):
		if opts.GCS == nil {
			return nil, fmt.Errorf("feed %s: no GCS client configured", uri)
		}
		return &GCSSource{URI: uri, client: opts.GCS}, nil
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", uri, err)
		}
		return FileSource(u.Path), nil
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("unsupported feed URI scheme: %s", uri)
	default:
		return FileSource(uri), nil
	}
}

// FileSource reads a local file.
type FileSource string

func (s FileSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(string(s))
	if err != nil {
		return nil, fmt.Errorf("opening feed file: %w", err)
	}
	return f, nil
}

func (s FileSource) String() string { return "file://" + string(s) }

// HTTPSource downloads a URL.
type HTTPSource struct {
	URL        string
	downloader *Downloader
}

func (s *HTTPSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	r, err := s.downloader.Open(ctx, s.URL)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", s.URL, err)
	}
	return r, nil
}

func (s *HTTPSource) String() string { return s.URL }

// GCSSource reads a gs:// object.
type GCSSource struct {
	URI    string
	client ObjectOpener
}

func (s *GCSSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	return s.client.Open(ctx, s.URI)
}

func (s *GCSSource) String() string { return s.URI }
