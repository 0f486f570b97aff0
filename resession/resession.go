package resession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"github.com/ditsuke/go-resession/resession/instrumentation"
	"github.com/ditsuke/go-resession/resession/tlsclient"
)

// Errors
const (
	ErrCreateSession = "failed to create session"
	ErrSessionClosed = "session closed"
)

// DefaultResetStatus is the poison code used when neither the caller nor the
// configuration provides one. 403 is what anti-bot frontends typically return
// once a fingerprint is flagged.
const DefaultResetStatus = http.StatusForbidden

// Option is a function that configures a Session during New.
type Option func(*Session) error

// WithResetOnStatus sets the status codes that poison the current transport.
// Calling it with no arguments disables reset-by-status entirely; omitting
// the option falls back to the configured default list, then to 403.
func WithResetOnStatus(codes ...int) Option {
	return func(s *Session) error {
		s.explicitCodes = codes
		s.codesSet = true
		return nil
	}
}

// WithConfig supplies an already-resolved Config instead of reading the
// environment. Pass &Config{} to run with no external configuration at all.
func WithConfig(cfg *Config) Option {
	return func(s *Session) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		s.cfg = cfg
		return nil
	}
}

// WithFactory replaces the default tlsclient-backed transport construction.
// The factory is invoked once up front and once per reset.
func WithFactory(f Factory) Option {
	return func(s *Session) error {
		if f == nil {
			return errors.New("factory cannot be nil")
		}
		s.factory = f
		return nil
	}
}

// WithTLSClient customizes the default browser-impersonating transport. The
// options are frozen at construction and reused verbatim for every
// replacement session. Proxy settings from configuration still apply unless
// the options set their own.
func WithTLSClient(opts *tlsclient.ClientOptions) Option {
	return func(s *Session) error {
		if opts == nil {
			opts = tlsclient.DefaultClientOptions()
		}
		s.tlsOpts = opts
		return nil
	}
}

// WithLogger routes the session's own (sparse) logging through the given
// logr.Logger instead of klog's default backend.
func WithLogger(log logr.Logger) Option {
	return func(s *Session) error {
		s.log = log
		s.logSet = true
		return nil
	}
}

// liveSession is the swap unit for the current transport. A nil holder
// pointer means the guard has been closed.
type liveSession struct {
	t Transport
}

// Session is a resettable wrapper around a Transport. It delegates requests
// to the current live transport and, when a response carries a poison status
// code, arms a deferred reset: the next request (or an explicit Reset) closes
// the old transport and builds a fresh one from the same parameters.
//
// A Session must be constructed with New and must not be reused after Close.
type Session struct {
	factory    Factory
	resetCodes map[int]struct{}
	log        logr.Logger

	// pending is read lock-free on the request fast path and is only ever
	// cleared while holding mu, paired with an actual replacement.
	pending atomic.Bool

	// mu serializes reconstruction. Close takes it too, so a close never
	// interleaves with an in-flight replacement.
	mu   sync.Mutex
	live atomic.Pointer[liveSession]

	// construction staging, only meaningful inside New.
	cfg           *Config
	explicitCodes []int
	codesSet      bool
	tlsOpts       *tlsclient.ClientOptions
	logSet        bool
}

// New builds a Session and synchronously constructs its first transport.
func New(opts ...Option) (*Session, error) {
	s := &Session{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply session option: %w", err)
		}
	}

	if s.cfg == nil {
		s.cfg = FromEnv()
	}
	if !s.logSet {
		s.log = klog.Background().WithName("resession")
	}

	codes := s.explicitCodes
	if !s.codesSet {
		codes = s.cfg.ResetStatusCodes
		if codes == nil {
			codes = []int{DefaultResetStatus}
		}
	}
	s.resetCodes = lo.SliceToMap(codes, func(code int) (int, struct{}) {
		return code, struct{}{}
	})

	if s.factory == nil {
		s.factory = s.defaultFactory()
	}

	first, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrCreateSession, err)
	}
	s.live.Store(&liveSession{t: first})

	return s, nil
}

// defaultFactory freezes the tlsclient options (including the proxy TLS
// verification policy resolved from configuration) and returns a factory
// that builds identical browser-impersonating transports.
func (s *Session) defaultFactory() Factory {
	opts := s.tlsOpts
	if opts == nil {
		opts = tlsclient.DefaultClientOptions()
	}
	frozen := *opts
	if frozen.ProxyURL == "" {
		frozen.ProxyURL = s.cfg.ProxyURL
	}
	if s.cfg.skipProxyVerify() {
		frozen.InsecureSkipProxyVerify = true
	}

	return func() (Transport, error) {
		client, err := tlsclient.NewHTTPClient(&frozen)
		if err != nil {
			return nil, err
		}
		return WrapClient(client), nil
	}
}

// Do issues the request through the current live transport, performing any
// pending reset first. If the response status is in the poison set, a reset
// is armed for the next request; the response itself is returned intact.
// Transport errors propagate unchanged and never arm a reset.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	statusCode := 0
	var reqErr error
	trace := instrumentation.StartRequest(req.Context(), req.Method, req.URL.Host)
	defer func() {
		trace.End(statusCode, reqErr)
	}()

	if err := s.maybeReset(); err != nil {
		reqErr = err
		return nil, reqErr
	}

	holder := s.live.Load()
	if holder == nil {
		reqErr = errors.New(ErrSessionClosed)
		return nil, reqErr
	}

	resp, err := holder.t.Do(req)
	if err != nil {
		reqErr = err
		return nil, reqErr
	}
	statusCode = resp.StatusCode

	if _, poison := s.resetCodes[resp.StatusCode]; poison {
		s.pending.Store(true)
		s.log.V(1).Info("poison status observed, reset armed", "status", resp.StatusCode)
	}

	return resp, nil
}

// Request composes and issues a request for an arbitrary method.
func (s *Session) Request(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to compose request: %w", err)
	}
	return s.Do(req)
}

// Get issues a GET request through the session.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	return s.Request(ctx, http.MethodGet, url, nil)
}

// Head issues a HEAD request through the session.
func (s *Session) Head(ctx context.Context, url string) (*http.Response, error) {
	return s.Request(ctx, http.MethodHead, url, nil)
}

// Post issues a POST request through the session.
func (s *Session) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to compose request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return s.Do(req)
}

// maybeReset performs the replacement sequence if a reset is pending. The
// unlocked read is the fast path; the flag is re-checked under the lock so
// that concurrent callers observing the same pending episode produce exactly
// one reconstruction.
func (s *Session) maybeReset() error {
	if !s.pending.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending.Load() {
		// Another caller already replaced the session while we waited.
		return nil
	}
	if s.live.Load() == nil {
		return errors.New(ErrSessionClosed)
	}

	s.pending.Store(false)

	fresh, err := s.factory()
	if err != nil {
		// Leave the old transport in place and keep the reset armed so the
		// next request tries again.
		s.pending.Store(true)
		return fmt.Errorf("%s: %w", ErrCreateSession, err)
	}

	old := s.live.Swap(&liveSession{t: fresh})
	if err := old.t.Close(); err != nil {
		// The new session is already live; failing to dispose of the
		// discarded one must never fail the calling request.
		s.log.V(1).Info("failed to close discarded session", "err", err)
	}

	instrumentation.RecordReset(context.Background())
	s.log.V(1).Info("session reset")
	return nil
}

// Reset arms and immediately performs a session replacement, for callers
// with out-of-band knowledge that the current session is bad. When it
// returns, no subsequent request will contact the previous transport.
func (s *Session) Reset() error {
	s.pending.Store(true)
	return s.maybeReset()
}

// Close releases the live transport and renders the session unusable.
// Internal state is cleared even if the underlying close fails, so a second
// Close is a no-op. Close participates in the reconstruction lock; it cannot
// race a replacement into resurrecting a transport.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.Store(false)
	old := s.live.Swap(nil)
	if old == nil {
		return nil
	}
	if err := old.t.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// Underlying returns the current live transport, or nil after Close. It is
// an escape hatch for capabilities the wrapper doesn't model; calls made
// through it bypass the reset guarantees.
func (s *Session) Underlying() Transport {
	if holder := s.live.Load(); holder != nil {
		return holder.t
	}
	return nil
}
