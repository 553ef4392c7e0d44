package http

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// cookieJar wraps an RFC 6265 jar so it can be enumerated and cleared.
// cookiejar.Jar only answers per-URL lookups, so every URL a cookie was
// stored under is remembered.
type cookieJar struct {
	mu   sync.Mutex
	jar  *cookiejar.Jar
	urls map[string]*url.URL
}

func newCookieJar() *cookieJar {
	j := &cookieJar{}
	j.reset()
	return j
}

func (j *cookieJar) reset() {
	// cookiejar.New only fails on invalid options
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j.jar = jar
	j.urls = make(map[string]*url.URL)
}

// SetCookies stores cookies received from u.
func (j *cookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	for _, c := range cookies {
		p := c.Path
		if p == "" || p[0] != '/' {
			p = defaultCookiePath(u.Path)
		}
		tracked := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: p}
		j.urls[tracked.String()] = tracked
	}
}

// CookiesFor returns the cookies the jar would send to u.
func (j *cookieJar) CookiesFor(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// All returns every live cookie in the jar with Domain and Path filled in from
// the URL it is reachable under. Iteration order is stable.
func (j *cookieJar) All() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	keys := make([]string, 0, len(j.urls))
	for k := range j.urls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	var out []*http.Cookie
	for _, k := range keys {
		u := j.urls[k]
		for _, c := range j.jar.Cookies(u) {
			id := u.Hostname() + "|" + u.Path + "|" + c.Name
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: u.Hostname(),
				Path:   u.Path,
				Secure: u.Scheme == "https",
			})
		}
	}
	return out
}

// Add installs a caller supplied cookie. The cookie must name its domain.
func (j *cookieJar) Add(c *http.Cookie) error {
	if c == nil {
		return fmt.Errorf("nil cookie")
	}
	host := strings.TrimPrefix(c.Domain, ".")
	if host == "" {
		return fmt.Errorf("cookie %q has no domain", c.Name)
	}
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	p := c.Path
	if p == "" {
		p = "/"
	}
	j.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: p}, []*http.Cookie{c})
	return nil
}

// Clear drops every cookie.
func (j *cookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reset()
}

// defaultCookiePath implements the RFC 6265 section 5.1.4 default path.
func defaultCookiePath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	dir := path.Dir(requestPath)
	if strings.HasSuffix(requestPath, "/") {
		dir = strings.TrimSuffix(requestPath, "/")
	}
	if dir == "" || dir == "." {
		return "/"
	}
	return dir
}

// joinCookieHeader renders name=value pairs separated by ";" with names in
// sorted order.
func joinCookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cookies[name])
	}
	return b.String()
}

// parseCookieHeader reads a Cookie header value back into a map.
func parseCookieHeader(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

// mergeCookieHeader overlays fresh cookies onto an existing Cookie header.
func mergeCookieHeader(header string, fresh []*http.Cookie) string {
	merged := parseCookieHeader(header)
	for _, c := range fresh {
		merged[c.Name] = c.Value
	}
	return joinCookieHeader(merged)
}
