package http

import (
	"bytes"
	"io"
)

// DoRequest sends a request and returns the whole body decoded with charset.
// Only MethodGet and MethodPost are implemented; the other methods fail with
// ErrUnimplementedMethod before any I/O.
//
// For GET, params become the query string. For POST, params become a form
// body unless params["json"] is "true", in which case params["param"] is sent
// as-is with the content type in params["contentType"] (text/xml by default).
func (s *Session) DoRequest(method MethodType, url string, params map[string]string, charset string) (string, error) {
	var buf bytes.Buffer
	err := s.dispatch(method, url, params, charset, func(body io.Reader) error {
		_, err := buf.ReadFrom(body)
		return err
	})
	if err != nil {
		return "", err
	}

	text, err := decodeBytes(buf.Bytes(), charset)
	if err != nil {
		return "", newRequestError(KindCharset, method, url, err)
	}
	return text, nil
}

// DoRequestStream sends a request and passes the open body to callback. The
// body is closed and the connection released after callback returns, whether
// it succeeds, fails or panics. The callback must finish reading before it
// returns.
func (s *Session) DoRequestStream(callback ResponseCallback, method MethodType, url string, params map[string]string, charset string) error {
	return s.dispatch(method, url, params, charset, callback)
}

// Get is DoRequest(MethodGet, url, nil, charset).
func (s *Session) Get(url, charset string) (string, error) {
	return s.DoRequest(MethodGet, url, nil, charset)
}

// Post is DoRequest(MethodPost, url, params, charset).
func (s *Session) Post(url string, params map[string]string, charset string) (string, error) {
	return s.DoRequest(MethodPost, url, params, charset)
}
