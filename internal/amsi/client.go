// ABOUTME: Client side of the scan interface mirroring how a scanning host calls in
// ABOUTME: Context and Session wrap a Provider; strings are submitted as UTF-16LE

package amsi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// ErrNotInitialized is returned when a Context is used after Uninitialize.
var ErrNotInitialized = errors.New("scan context is not initialized")

// ResultIsMalware reports whether strength is a malware verdict.
func ResultIsMalware(s types.Strength) bool {
	return s.IsMalware()
}

// Context is one host's connection to a provider.
type Context struct {
	appName  string
	provider *Provider

	mu          sync.Mutex
	initialized bool
	sessions    map[uint64]struct{}
	nextSession atomic.Uint64
}

// Initialize opens a Context for appName on provider.
func Initialize(appName string, provider *Provider) (*Context, error) {
	if appName == "" {
		return nil, fmt.Errorf("%w: empty app name", ErrInvalidArgument)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidArgument)
	}
	return &Context{
		appName:     appName,
		provider:    provider,
		initialized: true,
		sessions:    make(map[uint64]struct{}),
	}, nil
}

// AppName returns the name the Context was initialized with.
func (c *Context) AppName() string {
	return c.appName
}

// OpenSession starts a session that groups related scans.
func (c *Context) OpenSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	id := c.nextSession.Add(1)
	c.sessions[id] = struct{}{}
	return &Session{id: id, owner: c}, nil
}

// CloseSession ends s. Closing an unknown or already closed session is a no-op.
func (c *Context) CloseSession(s *Session) {
	if s == nil || s.owner != c {
		return
	}
	c.mu.Lock()
	_, open := c.sessions[s.id]
	delete(c.sessions, s.id)
	c.mu.Unlock()

	if open {
		c.provider.CloseSession(s.id)
	}
}

// Uninitialize closes every open session and invalidates the Context.
func (c *Context) Uninitialize() {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = make(map[uint64]struct{})
	c.initialized = false
	c.mu.Unlock()

	for _, id := range ids {
		c.provider.CloseSession(id)
	}
}

// ScanString scans text as UTF-16LE without a session.
func (c *Context) ScanString(ctx context.Context, text, contentName string) (types.Strength, error) {
	return c.scanString(ctx, text, contentName, 0)
}

// ScanBuffer scans raw bytes without a session.
func (c *Context) ScanBuffer(ctx context.Context, buf []byte, contentName string) (types.Strength, error) {
	return c.scanBuffer(ctx, buf, contentName, 0)
}

func (c *Context) scanString(ctx context.Context, text, contentName string, session uint64) (types.Strength, error) {
	encoded, err := EncodeUTF16LE(text)
	if err != nil {
		return types.StrengthClean, fmt.Errorf("encoding string: %w", err)
	}
	return c.scanBuffer(ctx, encoded, contentName, session)
}

func (c *Context) scanBuffer(ctx context.Context, buf []byte, contentName string, session uint64) (types.Strength, error) {
	c.mu.Lock()
	ok := c.initialized
	_, open := c.sessions[session]
	c.mu.Unlock()
	if !ok {
		return types.StrengthClean, ErrNotInitialized
	}
	if session != 0 && !open {
		return types.StrengthClean, fmt.Errorf("%w: session %d is closed", ErrInvalidArgument, session)
	}
	if buf == nil {
		return types.StrengthClean, ErrInvalidArgument
	}

	stream := NewBufferStream(buf).WithAppName(c.appName).WithContentName(contentName)
	sessionID := ""
	if session != 0 {
		sessionID = sessionKey(session)
	}
	return c.provider.scan(ctx, stream, sessionID)
}

// Session correlates scans submitted by one host operation.
type Session struct {
	id    uint64
	owner *Context
}

// ID returns the session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// ScanString scans text as UTF-16LE within the session. A closed session
// fails with ErrInvalidArgument.
func (s *Session) ScanString(ctx context.Context, text, contentName string) (types.Strength, error) {
	return s.owner.scanString(ctx, text, contentName, s.id)
}

// ScanBuffer scans raw bytes within the session.
func (s *Session) ScanBuffer(ctx context.Context, buf []byte, contentName string) (types.Strength, error) {
	return s.owner.scanBuffer(ctx, buf, contentName, s.id)
}

// EncodeUTF16LE encodes text as little-endian UTF-16 without a BOM.
// The result is never nil, so an empty string scans as empty content.
func EncodeUTF16LE(text string) ([]byte, error) {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
