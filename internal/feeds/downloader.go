// ABOUTME: HTTP client for rule documents published at remote URLs
// ABOUTME: Bounds the body size and sends a configurable user agent

package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFeedTooLarge is returned by reads past DownloaderConfig.MaxSize.
var ErrFeedTooLarge = errors.New("feed document exceeds size limit")

// DownloaderConfig is the [feeds.downloader] section.
type DownloaderConfig struct {
	Timeout   time.Duration `toml:"timeout"`
	UserAgent string        `toml:"user_agent"`
	// MaxSize in bytes. Zero disables the limit.
	MaxSize int64 `toml:"max_size"`
}

func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Timeout:   2 * time.Minute,
		UserAgent: "hikmaai-lens/1.0",
		MaxSize:   32 << 20,
	}
}

// Downloader fetches feed documents over HTTP. It is safe for concurrent use.
type Downloader struct {
	client *http.Client
	config DownloaderConfig
}

// NewDownloader uses DefaultDownloaderConfig when config is nil.
func NewDownloader(config *DownloaderConfig) *Downloader {
	cfg := DefaultDownloaderConfig()
	if config != nil {
		cfg = *config
	}
	return &Downloader{client: &http.Client{Timeout: cfg.Timeout}, config: cfg}
}

// Open issues a GET for url and returns the body, which the caller closes.
// Anything but 200 is an error. An oversized body fails with ErrFeedTooLarge,
// up front when Content-Length says so and otherwise on the read that
// crosses the limit.
func (d *Downloader) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	limit := d.config.MaxSize
	switch {
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	case limit > 0 && resp.ContentLength > limit:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFeedTooLarge, resp.ContentLength, limit)
	case limit <= 0:
		return resp.Body, nil
	}
	return &cappedBody{ReadCloser: resp.Body, left: limit}, nil
}

// cappedBody reads at most left bytes and fails if the body has more.
type cappedBody struct {
	io.ReadCloser
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left == 0 {
		// Probe one byte to tell a body that ends exactly at the limit
		// from one that keeps going.
		var one [1]byte
		n, err := b.ReadCloser.Read(one[:])
		if n > 0 {
			return 0, ErrFeedTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	return n, err
}
