// ABOUTME: GCS reader for rule documents and scan task objects
// ABOUTME: Uses the storage SDK with ADC, or the JSON API directly against an emulator

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config is the [gcs] section.
type Config struct {
	// Bucket resolves object paths given without gs://.
	Bucket string `toml:"bucket"`

	// CredentialsFile is a service account JSON key. Empty means ADC.
	CredentialsFile string `toml:"credentials_file"`

	// EmulatorHost points at fake-gcs-server or similar, host:port.
	// STORAGE_EMULATOR_HOST is used when this is empty.
	EmulatorHost string `toml:"emulator_host"`
}

// ObjectRef names one object.
type ObjectRef struct {
	Bucket string
	Object string
}

func (r ObjectRef) String() string { return "gs://" + r.Bucket + "/" + r.Object }

// ParseURI splits gs://bucket/object. The object part may be empty.
func ParseURI(uri string) (ObjectRef, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return ObjectRef{}, fmt.Errorf("invalid GCS URI %q: must start with gs://", uri)
	}
	bucket, object, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return ObjectRef{}, fmt.Errorf("invalid GCS URI %q: missing bucket", uri)
	}
	return ObjectRef{Bucket: bucket, Object: object}, nil
}

// Client opens objects for reading. Exactly one of sdk and emulator is set.
type Client struct {
	sdk      *storage.Client
	emulator string
	http     *http.Client
	bucket   string
}

// NewClient connects to GCS, or to an emulator when one is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	host := cfg.EmulatorHost
	if host == "" {
		host = os.Getenv("STORAGE_EMULATOR_HOST")
	}
	if host != "" {
		host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
		return &Client{emulator: host, http: &http.Client{}, bucket: cfg.Bucket}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	sdk, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Client{sdk: sdk, bucket: cfg.Bucket}, nil
}

// Close releases the SDK client.
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

// IsEmulatorMode reports whether reads go to an emulator.
func (c *Client) IsEmulatorMode() bool { return c.emulator != "" }

// Resolve turns a gs:// URI or a path in the default bucket into a
// validated reference.
func (c *Client) Resolve(ref string) (ObjectRef, error) {
	var (
		r   ObjectRef
		err error
	)
	if strings.HasPrefix(ref, "gs://") {
		r, err = ParseURI(ref)
		if err != nil {
			return ObjectRef{}, err
		}
	} else {
		r = ObjectRef{Bucket: c.bucket, Object: strings.TrimPrefix(ref, "/")}
	}

	switch {
	case r.Bucket == "":
		return ObjectRef{}, fmt.Errorf("object %q: no bucket configured", ref)
	case r.Object == "":
		return ObjectRef{}, fmt.Errorf("object %q: missing object name", ref)
	case path.Clean(r.Object) != r.Object || r.Object == ".." || strings.HasPrefix(r.Object, "../"):
		return ObjectRef{}, fmt.Errorf("object %q: path traversal", ref)
	}
	return r, nil
}

// Open returns a reader over ref. The caller closes it.
func (c *Client) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	r, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if c.emulator != "" {
		return c.openEmulator(ctx, r)
	}

	rc, err := c.sdk.Bucket(r.Bucket).Object(r.Object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: object not found", r)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r, err)
	}
	return rc, nil
}

// openEmulator downloads through the JSON API media endpoint.
func (c *Client) openEmulator(ctx context.Context, r ObjectRef) (io.ReadCloser, error) {
	u := fmt.Sprintf("http://%s/storage/v1/b/%s/o/%s?alt=media",
		c.emulator, url.PathEscape(r.Bucket), url.PathEscape(r.Object))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", r, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("opening %s: HTTP %d", r, resp.StatusCode)
	}
	return resp.Body, nil
}
