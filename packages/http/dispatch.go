package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ResponseCallback consumes a response body. The reader is only valid until
// the callback returns; reads after that fail with ErrStreamClosed.
type ResponseCallback func(body io.Reader) error

// redirectState tracks a POST through its optional manual redirect.
type redirectState int

const (
	stateSent redirectState = iota
	stateRedirecting
	stateFinal
)

// dispatch builds, sends and hands the response body to consume. The
// connection is released and the idle pool swept on every exit path.
func (s *Session) dispatch(method MethodType, rawURL string, params map[string]string, charset string, consume ResponseCallback) (err error) {
	if s.isClosed() {
		return newRequestError(KindProtocol, method, rawURL, ErrSessionClosed)
	}
	if consume == nil {
		return newRequestError(KindProtocol, method, rawURL, errors.New("nil response callback"))
	}

	requestID := uuid.NewString()
	log := s.logger

	req, err := s.prepare(method, rawURL, params, charset)
	if err != nil {
		log.Debug("request rejected", "request_id", requestID, "method", method.String(), "url", rawURL, "error", err)
		return err
	}

	ctx, abort := context.WithCancel(context.Background())
	defer abort()

	start := time.Now()
	resp, err := s.execute(ctx, requestID, req)
	if err != nil {
		abort()
		s.sweep()
		log.Warn("request failed", "request_id", requestID, "method", req.Method, "url", req.URL, "error", err)
		return newRequestError(classifyTransportError(err), method, rawURL, err)
	}
	log.Debug("response received",
		"request_id", requestID,
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.transport.Release(resp)
			s.sweep()
		})
	}
	defer release()

	stream := &guardedReader{r: resp.Body}
	defer stream.close()

	if err := consume(stream); err != nil {
		abort()
		log.Warn("reading response failed", "request_id", requestID, "url", req.URL, "error", err)
		return newRequestError(KindIO, method, rawURL, err)
	}
	return nil
}

// prepare builds the request and decorates it with session state.
func (s *Session) prepare(method MethodType, rawURL string, params map[string]string, charset string) (*PreparedRequest, error) {
	if !method.Implemented() {
		return nil, newRequestError(KindUnimplemented, method, rawURL, ErrUnimplementedMethod)
	}
	if _, err := lookupEncoding(charset); err != nil {
		return nil, newRequestError(KindCharset, method, rawURL, err)
	}

	req, err := s.builder.build(method, rawURL, params, charset)
	if err != nil {
		kind := KindProtocol
		if errors.Is(err, ErrUnimplementedMethod) {
			kind = KindUnimplemented
		}
		return nil, newRequestError(kind, method, rawURL, err)
	}
	s.decorate(req, charset)
	return req, nil
}

// decorate pushes charset and default headers to the transport and attaches
// the synthesized Cookie header.
func (s *Session) decorate(req *PreparedRequest, charset string) {
	s.transport.SetContentCharset(charset)
	s.transport.SetDefaultHeaders(s.DefaultHeaders())
	req.CookiePolicy = CookiePolicyBrowserCompatibility
	req.Header.Set("Cookie", s.cookieHeader())
}

// execute sends req and, for POST, follows one redirect with a GET that
// carries the refreshed cookie mirror.
func (s *Session) execute(ctx context.Context, requestID string, req *PreparedRequest) (*http.Response, error) {
	state := stateSent
	current := req
	var resp *http.Response

	for state != stateFinal {
		var err error
		resp, err = s.send(ctx, current)
		if err != nil {
			return nil, err
		}

		switch {
		case state == stateSent && current.Method == http.MethodPost && s.isRedirect(resp.StatusCode):
			target, err := resolveLocation(current.URL, resp.Header.Get("Location"))
			s.transport.Release(resp)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("following redirect",
				"request_id", requestID,
				"status", resp.StatusCode,
				"location", target,
			)
			current = s.followRequest(target, req.Charset)
			state = stateRedirecting
		default:
			state = stateFinal
		}
	}
	return resp, nil
}

func (s *Session) followRequest(target, charset string) *PreparedRequest {
	follow := &PreparedRequest{
		Method:  http.MethodGet,
		URL:     target,
		Header:  make(http.Header),
		Charset: charset,
	}
	s.decorate(follow, charset)
	return follow
}

// send performs one transport round trip and refreshes the cookie mirror.
func (s *Session) send(ctx context.Context, req *PreparedRequest) (*http.Response, error) {
	resp, err := s.transport.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	s.refreshMirror()
	return resp, nil
}

func (s *Session) sweep() {
	s.transport.CloseIdleConnections(s.sweepThreshold)
}

// guardedReader fails every read once closed, so a body captured by a callback
// cannot be used after the connection went back to the pool.
type guardedReader struct {
	r      io.Reader
	closed atomic.Bool
}

func (g *guardedReader) Read(p []byte) (int, error) {
	if g.closed.Load() {
		return 0, ErrStreamClosed
	}
	return g.r.Read(p)
}

func (g *guardedReader) close() {
	g.closed.Store(true)
}
