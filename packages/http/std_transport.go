package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	// DefaultMaxRedirects is the maximum number of redirects followed for GET
	DefaultMaxRedirects = 10
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second

	// maxDrainBytes bounds how much of an unread body is consumed on release
	// so the connection can go back to the pool.
	maxDrainBytes = 64 << 10
)

type scopedCredentials struct {
	scope AuthScope
	creds Credentials
}

// StdTransport is the default Transport, built on net/http's pooled transport.
type StdTransport struct {
	transport    *http.Transport
	jar          *cookieJar
	maxRedirects int

	connectTimeout atomic.Int64
	readTimeout    atomic.Int64
	lastActivity   atomic.Int64
	used           atomic.Bool

	mu         sync.RWMutex
	charset    string
	headers    []Header
	creds      []scopedCredentials
	proxyHost  string
	proxyPort  int
	proxyCreds []scopedCredentials
}

var _ Transport = (*StdTransport)(nil)

// TransportOption configures a StdTransport.
type TransportOption func(*StdTransport)

// WithMaxRedirects caps how many redirects a GET follows.
func WithMaxRedirects(max int) TransportOption {
	return func(t *StdTransport) {
		t.maxRedirects = max
	}
}

// WithIdleConnTimeout sets how long idle pooled connections are kept.
func WithIdleConnTimeout(d time.Duration) TransportOption {
	return func(t *StdTransport) {
		t.transport.IdleConnTimeout = d
	}
}

func NewStdTransport(opts ...TransportOption) *StdTransport {
	t := &StdTransport{
		jar:          newCookieJar(),
		maxRedirects: DefaultMaxRedirects,
		charset:      DefaultCharset,
	}
	t.transport = &http.Transport{
		Proxy:               t.proxyURL,
		DialContext:         t.dialContext,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		// Content-Encoding is handled by decodeBody
		DisableCompression: true,
	}
	t.connectTimeout.Store(int64(DefaultConnectTimeout))
	t.readTimeout.Store(int64(DefaultReadTimeout))

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterScheme installs a TLS profile for https. It must be called before
// the first request.
func (t *StdTransport) RegisterScheme(scheme string, profile *tls.Config) error {
	if !strings.EqualFold(scheme, "https") {
		return fmt.Errorf("unsupported scheme: %s (only https takes a TLS profile)", scheme)
	}
	if t.used.Load() {
		return fmt.Errorf("cannot register %s profile after the first request", scheme)
	}
	if profile != nil {
		t.transport.TLSClientConfig = profile.Clone()
	}
	return nil
}

func (t *StdTransport) SetProxy(host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proxyHost = host
	t.proxyPort = port
}

func (t *StdTransport) SetProxyCredentials(scope AuthScope, creds Credentials) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proxyCreds = putCredentials(t.proxyCreds, scope, creds)
}

func (t *StdTransport) SetCredentials(scope AuthScope, creds Credentials) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creds = putCredentials(t.creds, scope, creds)
}

func putCredentials(list []scopedCredentials, scope AuthScope, creds Credentials) []scopedCredentials {
	for i := range list {
		if list[i].scope == scope {
			list[i].creds = creds
			return list
		}
	}
	return append(list, scopedCredentials{scope: scope, creds: creds})
}

func findCredentials(list []scopedCredentials, host string, port int, realm string) (Credentials, bool) {
	// later registrations take precedence
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].scope.Matches(host, port, realm) {
			return list[i].creds, true
		}
	}
	return Credentials{}, false
}

func (t *StdTransport) SetConnectTimeout(d time.Duration) {
	t.connectTimeout.Store(int64(d))
}

func (t *StdTransport) SetReadTimeout(d time.Duration) {
	t.readTimeout.Store(int64(d))
}

// ConnectTimeout returns the configured connect timeout.
func (t *StdTransport) ConnectTimeout() time.Duration {
	return time.Duration(t.connectTimeout.Load())
}

// ReadTimeout returns the configured per-read socket timeout.
func (t *StdTransport) ReadTimeout() time.Duration {
	return time.Duration(t.readTimeout.Load())
}

func (t *StdTransport) SetContentCharset(charset string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.charset = charset
}

// ContentCharset returns the charset used for bodies that do not name one.
func (t *StdTransport) ContentCharset() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.charset
}

func (t *StdTransport) SetDefaultHeaders(headers []Header) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers = append([]Header(nil), headers...)
}

// DefaultHeaders returns the host-level default headers.
func (t *StdTransport) DefaultHeaders() []Header {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Header(nil), t.headers...)
}

func (t *StdTransport) Cookies() []*http.Cookie {
	return t.jar.All()
}

func (t *StdTransport) AddCookie(c *http.Cookie) error {
	return t.jar.Add(c)
}

func (t *StdTransport) AddCookies(cs []*http.Cookie) error {
	for _, c := range cs {
		if err := t.jar.Add(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *StdTransport) ClearCookies() {
	t.jar.Clear()
}

// Release returns the response's connection to the pool. Calling it more than
// once is harmless.
func (t *StdTransport) Release(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	_ = resp.Body.Close()
	t.touch()
}

// CloseIdleConnections closes pooled connections that have been idle for at
// least threshold. net/http does not expose per-connection idle times, so a
// positive threshold closes the whole idle pool only once the transport itself
// has been quiet for that long.
func (t *StdTransport) CloseIdleConnections(threshold time.Duration) {
	if threshold > 0 {
		last := time.Unix(0, t.lastActivity.Load())
		if time.Since(last) < threshold {
			return
		}
	}
	t.transport.CloseIdleConnections()
}

func (t *StdTransport) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// Execute performs one round trip. GET requests follow redirects; every other
// method returns redirect responses to the caller. A 401 is answered once with
// matching credentials.
func (t *StdTransport) Execute(ctx context.Context, req *PreparedRequest) (*http.Response, error) {
	t.used.Store(true)
	defer t.touch()

	resp, err := t.roundTrip(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := ParseChallenge(resp.Header.Get("WWW-Authenticate"))
	authHeader, ok, err := t.answerChallenge(challenge, resp.Request)
	if err != nil {
		t.Release(resp)
		return nil, err
	}
	if !ok {
		return resp, nil
	}
	t.Release(resp)
	return t.roundTrip(ctx, req, authHeader)
}

func (t *StdTransport) answerChallenge(ch Challenge, challenged *http.Request) (string, bool, error) {
	u := challenged.URL
	t.mu.RLock()
	creds, ok := findCredentials(t.creds, u.Hostname(), urlPort(u), ch.Params["realm"])
	t.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	return authorizationFor(ch, creds, challenged.Method, u.RequestURI())
}

func (t *StdTransport) roundTrip(ctx context.Context, req *PreparedRequest, authHeader string) (*http.Response, error) {
	httpReq, err := t.newHTTPRequest(ctx, req, authHeader)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Transport:     t.transport,
		CheckRedirect: t.redirectPolicy(req),
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if req.CookiePolicy == CookiePolicyBrowserCompatibility {
		t.jar.SetCookies(resp.Request.URL, resp.Cookies())
	}
	decodeBody(resp)
	return resp, nil
}

func (t *StdTransport) newHTTPRequest(ctx context.Context, req *PreparedRequest, authHeader string) (*http.Request, error) {
	charset := req.Charset
	if charset == "" {
		charset = t.ContentCharset()
	}

	var body io.Reader
	var contentType string
	switch {
	case req.Form != nil:
		encoded, err := encodeForm(req.Form, charset)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(encoded)
		contentType = "application/x-www-form-urlencoded; charset=" + charset
	case req.Body != "" || req.ContentType != "":
		encoded, err := encodeString(req.Body, charset)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(encoded)
		contentType = withCharset(req.ContentType, charset)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}

	for _, h := range t.DefaultHeaders() {
		if len(httpReq.Header.Values(h.Name)) == 0 {
			httpReq.Header.Set(h.Name, h.Value)
		}
	}
	for name, values := range req.Header {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}
	return httpReq, nil
}

// withCharset appends a charset parameter unless the content type already has one.
func withCharset(contentType, charset string) string {
	if contentType == "" || charset == "" || strings.Contains(strings.ToLower(contentType), "charset") {
		return contentType
	}
	return contentType + "; charset=" + charset
}

func (t *StdTransport) redirectPolicy(req *PreparedRequest) func(*http.Request, []*http.Request) error {
	return func(next *http.Request, via []*http.Request) error {
		if req.Method != http.MethodGet {
			return http.ErrUseLastResponse
		}
		if len(via) >= t.maxRedirects {
			return http.ErrUseLastResponse
		}
		if req.CookiePolicy == CookiePolicyBrowserCompatibility && next.Response != nil {
			t.jar.SetCookies(next.Response.Request.URL, next.Response.Cookies())
			if fresh := t.jar.CookiesFor(next.URL); len(fresh) > 0 {
				next.Header.Set("Cookie", mergeCookieHeader(next.Header.Get("Cookie"), fresh))
			}
		}
		return nil
	}
}

func (t *StdTransport) proxyURL(req *http.Request) (*neturl.URL, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.proxyHost == "" {
		return nil, nil
	}
	u := &neturl.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(t.proxyHost, strconv.Itoa(t.proxyPort)),
	}
	if creds, ok := findCredentials(t.proxyCreds, t.proxyHost, t.proxyPort, ""); ok {
		u.User = neturl.UserPassword(creds.Username, creds.Password)
	}
	return u, nil
}

func (t *StdTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   t.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if rt := t.ReadTimeout(); rt > 0 {
		return &deadlineConn{Conn: conn, readTimeout: rt}, nil
	}
	return conn, nil
}

func urlPort(u *neturl.URL) int {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// decodeBody swaps a gzip or deflate encoded body for a decoding reader.
func decodeBody(resp *http.Response) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if encoding != "gzip" && encoding != "deflate" {
		return
	}
	resp.Body = &decodingBody{body: resp.Body, encoding: encoding}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

// decodingBody creates its decompressor on first read so empty bodies do not
// fail on a missing header.
type decodingBody struct {
	body     io.ReadCloser
	encoding string
	reader   io.ReadCloser
	err      error
}

func (d *decodingBody) Read(p []byte) (int, error) {
	if d.reader == nil && d.err == nil {
		switch d.encoding {
		case "gzip":
			d.reader, d.err = gzip.NewReader(d.body)
		default:
			d.reader, d.err = zlib.NewReader(d.body)
		}
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.reader.Read(p)
}

func (d *decodingBody) Close() error {
	if d.reader != nil {
		_ = d.reader.Close()
	}
	return d.body.Close()
}
