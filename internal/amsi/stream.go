// ABOUTME: Content stream abstraction handed to the provider by a scanning host
// ABOUTME: BufferStream is the in-memory stream used by the client side and tests

package amsi

import (
	"fmt"
	"io"
)

// Default attributes reported by a BufferStream.
const (
	DefaultAppName     = "CustomAmsiProvider"
	DefaultContentName = "ScanContent"
)

// Stream is the host-side view of content under scan.
type Stream interface {
	AppName() string
	ContentName() string
	ContentSize() int64
	io.ReaderAt
}

// BufferStream is a Stream over a private copy of a byte slice.
type BufferStream struct {
	data        []byte
	appName     string
	contentName string
}

// NewBufferStream copies data into a new stream.
func NewBufferStream(data []byte) *BufferStream {
	return &BufferStream{
		data:        append([]byte(nil), data...),
		appName:     DefaultAppName,
		contentName: DefaultContentName,
	}
}

// WithAppName sets the reported application name.
func (s *BufferStream) WithAppName(name string) *BufferStream {
	if name != "" {
		s.appName = name
	}
	return s
}

// WithContentName sets the reported content name.
func (s *BufferStream) WithContentName(name string) *BufferStream {
	if name != "" {
		s.contentName = name
	}
	return s
}

// AppName returns the application that submitted the content.
func (s *BufferStream) AppName() string { return s.appName }

// ContentName returns the name the content was submitted under.
func (s *BufferStream) ContentName() string { return s.contentName }

// ContentSize returns the full length of the content, before any cap.
func (s *BufferStream) ContentSize() int64 { return int64(len(s.data)) }

// ReadAt implements io.ReaderAt. A negative offset is ErrInvalidArgument.
func (s *BufferStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
