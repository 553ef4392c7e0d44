package http

import (
	"fmt"
	"net/http"
	neturl "net/url"
	"sort"
	"strings"
)

// Parameter keys that switch a POST from a form body to a raw string body.
const (
	ParamJSON        = "json"
	ParamRawBody     = "param"
	ParamContentType = "contentType"

	// DefaultRawContentType is used for raw POST bodies without a contentType param.
	DefaultRawContentType = "text/xml"
)

// ValidateURL checks that a URL is well-formed and uses an allowed scheme
func ValidateURL(rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// requestBuilder turns a method, URL and parameter map into a PreparedRequest.
type requestBuilder struct {
	escapeQuery bool
}

func (b requestBuilder) build(method MethodType, rawURL string, params map[string]string, charset string) (*PreparedRequest, error) {
	switch method {
	case MethodGet:
		return b.buildGet(rawURL, params, charset)
	case MethodPost:
		return b.buildPost(rawURL, params, charset)
	case MethodPut, MethodDelete, MethodOption, MethodTrace:
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedMethod, method)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedMethod, method)
	}
}

func (b requestBuilder) buildGet(rawURL string, params map[string]string, charset string) (*PreparedRequest, error) {
	target := BuildQueryURL(rawURL, params, b.escapeQuery)
	if err := ValidateURL(target); err != nil {
		return nil, err
	}
	return &PreparedRequest{
		Method:  http.MethodGet,
		URL:     target,
		Header:  make(http.Header),
		Charset: charset,
	}, nil
}

func (b requestBuilder) buildPost(rawURL string, params map[string]string, charset string) (*PreparedRequest, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	req := &PreparedRequest{
		Method:  http.MethodPost,
		URL:     rawURL,
		Header:  make(http.Header),
		Charset: charset,
	}
	if len(params) == 0 {
		return req, nil
	}

	if isRawBody(params) {
		req.Body = params[ParamRawBody]
		req.ContentType = DefaultRawContentType
		if ct, ok := params[ParamContentType]; ok {
			req.ContentType = ct
		}
		return req, nil
	}

	req.Form = make([]Param, 0, len(params))
	for _, name := range sortedKeys(params) {
		req.Form = append(req.Form, Param{Name: name, Value: params[name]})
	}
	return req, nil
}

func isRawBody(params map[string]string) bool {
	flag := strings.TrimSpace(params[ParamJSON])
	return flag != "" && strings.EqualFold(flag, "true")
}

// BuildQueryURL appends params to rawURL as a query string. Keys are emitted in
// sorted order. Unless escape is set, keys and values are concatenated as-is.
func BuildQueryURL(rawURL string, params map[string]string, escape bool) string {
	if len(params) == 0 {
		return rawURL
	}

	var b strings.Builder
	b.WriteString(rawURL)
	for i, name := range sortedKeys(params) {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		value := params[name]
		if escape {
			name, value = neturl.QueryEscape(name), neturl.QueryEscape(value)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolveLocation resolves a redirect Location against the request URL. An
// empty location resolves to the root of the request's host.
func resolveLocation(base, location string) (string, error) {
	if location == "" {
		location = "/"
	}
	baseURL, err := neturl.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := neturl.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location header %q: %w", location, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
