package http

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"
)

// Transport performs single round trips on behalf of a Session. It owns the
// connection pool, TLS, proxying, credentials and the authoritative cookie jar.
// Implementations must be safe for concurrent use.
type Transport interface {
	RegisterScheme(scheme string, profile *tls.Config) error
	SetProxy(host string, port int)
	SetProxyCredentials(scope AuthScope, creds Credentials)
	SetCredentials(scope AuthScope, creds Credentials)
	SetConnectTimeout(d time.Duration)
	SetReadTimeout(d time.Duration)
	SetContentCharset(charset string)
	SetDefaultHeaders(headers []Header)

	Execute(ctx context.Context, req *PreparedRequest) (*http.Response, error)

	Cookies() []*http.Cookie
	AddCookie(c *http.Cookie) error
	AddCookies(cs []*http.Cookie) error
	ClearCookies()

	Release(resp *http.Response)
	CloseIdleConnections(threshold time.Duration)
}

// AuthScope limits where credentials are offered. Zero fields match anything.
type AuthScope struct {
	Host  string
	Port  int
	Realm string
}

// AnyScope matches every host, port and realm.
var AnyScope = AuthScope{}

// Matches reports whether the scope covers the given host, port and realm.
func (s AuthScope) Matches(host string, port int, realm string) bool {
	if s.Host != "" && !strings.EqualFold(s.Host, host) {
		return false
	}
	if s.Port != 0 && s.Port != port {
		return false
	}
	if s.Realm != "" && s.Realm != realm {
		return false
	}
	return true
}

// Credentials holds a username and password.
type Credentials struct {
	Username string
	Password string
}

// ParseCredentials splits a "user:password" pair. A value without a colon is
// taken as a username with an empty password.
func ParseCredentials(userPass string) Credentials {
	user, pass, _ := strings.Cut(userPass, ":")
	return Credentials{Username: user, Password: pass}
}

// CookiePolicy controls how a transport treats cookies set by responses.
type CookiePolicy int

const (
	// CookiePolicyBrowserCompatibility stores response cookies in the jar
	// following RFC 6265 domain and path rules.
	CookiePolicyBrowserCompatibility CookiePolicy = iota
	// CookiePolicyIgnore leaves the jar untouched.
	CookiePolicyIgnore
)

// Param is a single name/value form field.
type Param struct {
	Name  string
	Value string
}

// PreparedRequest is a fully built request handed to a Transport.
type PreparedRequest struct {
	Method       string
	URL          string
	Header       http.Header
	Form         []Param
	Body         string
	ContentType  string
	Charset      string
	CookiePolicy CookiePolicy
}

// HasBody reports whether the request carries an entity.
func (r *PreparedRequest) HasBody() bool {
	return r.Form != nil || r.Body != "" || r.ContentType != ""
}
