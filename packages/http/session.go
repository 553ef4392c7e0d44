package http

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultConnectTimeout bounds establishing a connection
	DefaultConnectTimeout = 20 * time.Second
	// DefaultReadTimeout bounds each socket read
	DefaultReadTimeout = 30 * time.Second
	// DefaultIdleSweepThreshold is passed to the pool after every request
	DefaultIdleSweepThreshold time.Duration = 0
)

// DefaultRedirectStatuses are the statuses that make a POST issue a follow-up
// GET to the Location header. 304 and 305 are included on purpose.
var DefaultRedirectStatuses = []int{
	http.StatusMovedPermanently,
	http.StatusFound,
	http.StatusSeeOther,
	http.StatusNotModified,
	http.StatusUseProxy,
	http.StatusTemporaryRedirect,
}

// Session keeps cookies and default headers across requests and dispatches
// them through a shared Transport. A Session is safe for concurrent use.
type Session struct {
	transport        Transport
	logger           Logger
	builder          requestBuilder
	connectTimeout   time.Duration
	readTimeout      time.Duration
	redirectStatuses map[int]bool
	sweepThreshold   time.Duration
	syncMirror       bool

	tlsProfile  *tls.Config
	proxyHost   string
	proxyPort   int
	proxyAuth   string
	credentials *Credentials

	mu      sync.Mutex
	cookies map[string]string
	headers []Header
	seeded  bool
	closed  bool
}

type SessionOption func(*Session)

// WithTransport replaces the default StdTransport.
func WithTransport(t Transport) SessionOption {
	return func(s *Session) {
		s.transport = t
	}
}

// WithTLSProfile registers profile as the https handler before any request.
func WithTLSProfile(profile *tls.Config) SessionOption {
	return func(s *Session) {
		s.tlsProfile = profile
	}
}

// WithProxy routes requests through host:port. userPass is "user:password"
// and may be empty.
func WithProxy(host string, port int, userPass string) SessionOption {
	return func(s *Session) {
		s.proxyHost = host
		s.proxyPort = port
		s.proxyAuth = userPass
	}
}

// WithCredentials offers username and password to any host and realm that
// challenges with Basic or Digest.
func WithCredentials(username, password string) SessionOption {
	return func(s *Session) {
		s.credentials = &Credentials{Username: username, Password: password}
	}
}

// WithTimeouts overrides the connect and read timeouts.
func WithTimeouts(connect, read time.Duration) SessionOption {
	return func(s *Session) {
		s.connectTimeout = connect
		s.readTimeout = read
	}
}

func WithLogger(logger Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRedirectStatuses replaces the set of statuses that trigger a manual
// redirect after POST.
func WithRedirectStatuses(statuses ...int) SessionOption {
	return func(s *Session) {
		s.redirectStatuses = statusSet(statuses)
	}
}

// WithIdleSweepThreshold sets the idle age passed to the pool sweep that runs
// after every request.
func WithIdleSweepThreshold(d time.Duration) SessionOption {
	return func(s *Session) {
		s.sweepThreshold = d
	}
}

// WithCookieMirrorSync makes every refresh replace the cookie mirror with the
// transport's jar, so cookies the server deleted are no longer replayed.
func WithCookieMirrorSync(enabled bool) SessionOption {
	return func(s *Session) {
		s.syncMirror = enabled
	}
}

// WithQueryEscaping percent-encodes GET parameter names and values.
func WithQueryEscaping(escape bool) SessionOption {
	return func(s *Session) {
		s.builder.escapeQuery = escape
	}
}

func NewSession(opts ...SessionOption) (*Session, error) {
	s := &Session{
		logger:           nopLogger{},
		connectTimeout:   DefaultConnectTimeout,
		readTimeout:      DefaultReadTimeout,
		redirectStatuses: statusSet(DefaultRedirectStatuses),
		sweepThreshold:   DefaultIdleSweepThreshold,
		cookies:          make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.connectTimeout < 0 || s.readTimeout < 0 {
		return nil, fmt.Errorf("timeouts must not be negative")
	}
	if s.transport == nil {
		s.transport = NewStdTransport()
	}

	if s.tlsProfile != nil {
		if err := s.transport.RegisterScheme("https", s.tlsProfile); err != nil {
			return nil, fmt.Errorf("registering TLS profile: %w", err)
		}
	}

	if s.proxyHost != "" {
		if s.proxyPort <= 0 || s.proxyPort > 65535 {
			return nil, fmt.Errorf("invalid proxy port: %d", s.proxyPort)
		}
		s.transport.SetProxy(s.proxyHost, s.proxyPort)
		if s.proxyAuth != "" {
			s.transport.SetProxyCredentials(
				AuthScope{Host: s.proxyHost, Port: s.proxyPort},
				ParseCredentials(s.proxyAuth),
			)
		}
	}

	if s.credentials != nil {
		s.transport.SetCredentials(AnyScope, *s.credentials)
	}

	s.transport.SetConnectTimeout(s.connectTimeout)
	s.transport.SetReadTimeout(s.readTimeout)

	return s, nil
}

// NewTLSSession creates a Session whose https requests use profile.
func NewTLSSession(profile *tls.Config, opts ...SessionOption) (*Session, error) {
	return NewSession(append([]SessionOption{WithTLSProfile(profile)}, opts...)...)
}

// NewProxySession creates a Session that sends requests through a proxy.
func NewProxySession(host string, port int, userPass string, opts ...SessionOption) (*Session, error) {
	return NewSession(append([]SessionOption{WithProxy(host, port, userPass)}, opts...)...)
}

// NewCredentialedSession creates a Session that answers Basic and Digest
// challenges from any origin with username and password.
func NewCredentialedSession(username, password string, opts ...SessionOption) (*Session, error) {
	return NewSession(append([]SessionOption{WithCredentials(username, password)}, opts...)...)
}

func statusSet(statuses []int) map[int]bool {
	set := make(map[int]bool, len(statuses))
	for _, code := range statuses {
		set[code] = true
	}
	return set
}

// Transport returns the transport the session dispatches through.
func (s *Session) Transport() Transport {
	return s.transport
}

// AddHTTPHeader sets default headers. For each entry every existing header with
// the same name takes the new value and a new entry is appended as well, so the
// list may hold duplicates.
func (s *Session) AddHTTPHeader(headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seedHeadersLocked()
	for _, name := range sortedKeys(headers) {
		value := headers[name]
		for i := range s.headers {
			if s.headers[i].Name == name {
				s.headers[i].Value = value
			}
		}
		s.headers = append(s.headers, Header{Name: name, Value: value})
	}
}

// DefaultHeaders returns a copy of the default header sequence.
func (s *Session) DefaultHeaders() []Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedHeadersLocked()
	return append([]Header(nil), s.headers...)
}

func (s *Session) seedHeadersLocked() {
	if s.seeded {
		return
	}
	s.headers = append(DefaultHeaderSeed(), s.headers...)
	s.seeded = true
}

// ClearCookie empties both the transport's jar and the session's mirror.
func (s *Session) ClearCookie() {
	s.transport.ClearCookies()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = make(map[string]string)
}

// AddCookie installs c into the transport's jar and refreshes the mirror.
func (s *Session) AddCookie(c *http.Cookie) error {
	if err := s.transport.AddCookie(c); err != nil {
		return err
	}
	s.refreshMirror()
	return nil
}

// AddCookies installs cs into the transport's jar and refreshes the mirror.
func (s *Session) AddCookies(cs []*http.Cookie) error {
	if err := s.transport.AddCookies(cs); err != nil {
		return err
	}
	s.refreshMirror()
	return nil
}

// CookieMirror returns a copy of the name to value map replayed on requests.
func (s *Session) CookieMirror() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out
}

// refreshMirror copies the transport's jar into the mirror. Entries the jar no
// longer holds stay in the mirror unless mirror sync is enabled.
func (s *Session) refreshMirror() {
	jar := s.transport.Cookies()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncMirror {
		s.cookies = make(map[string]string, len(jar))
	}
	for _, c := range jar {
		s.cookies[c.Name] = c.Value
	}
}

func (s *Session) cookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinCookieHeader(s.cookies)
}

func (s *Session) isRedirect(status int) bool {
	return s.redirectStatuses[status]
}

// Close sweeps the idle pool. Requests issued afterwards fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.transport.CloseIdleConnections(0)
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
