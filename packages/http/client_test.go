package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport counts what the session asks of the transport.
type recordingTransport struct {
	*StdTransport

	mu       sync.Mutex
	requests []*PreparedRequest
	releases atomic.Int32
	sweeps   atomic.Int32
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{StdTransport: NewStdTransport()}
}

func (r *recordingTransport) Execute(ctx context.Context, req *PreparedRequest) (*http.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.StdTransport.Execute(ctx, req)
}

func (r *recordingTransport) Release(resp *http.Response) {
	r.releases.Add(1)
	r.StdTransport.Release(resp)
}

func (r *recordingTransport) CloseIdleConnections(threshold time.Duration) {
	r.sweeps.Add(1)
	r.StdTransport.CloseIdleConnections(threshold)
}

func (r *recordingTransport) lastRequest() *PreparedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	return r.requests[len(r.requests)-1]
}

func newTestSession(t *testing.T, opts ...SessionOption) (*Session, *recordingTransport) {
	t.Helper()
	rt := newRecordingTransport()
	s, err := NewSession(append([]SessionOption{WithTransport(rt)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rt
}

func TestSession_GetWithParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/p", r.URL.Path)
		assert.Equal(t, "hello", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	body, err := s.DoRequest(MethodGet, server.URL+"/p", map[string]string{"q": "hello"}, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "OK", body)
	require.NotNil(t, rt.lastRequest())
	assert.True(t, strings.HasSuffix(rt.lastRequest().URL, "?q=hello"))
	assert.Equal(t, int32(1), rt.releases.Load())
	assert.GreaterOrEqual(t, rt.sweeps.Load(), int32(1))
}

func TestSession_PostRedirectCarriesCookies(t *testing.T) {
	var laterCookie atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			assert.Equal(t, "POST", r.Method)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "u", r.PostForm.Get("user"))
			assert.Equal(t, "p", r.PostForm.Get("pass"))
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "abc", Path: "/"})
			w.Header().Set("Location", "/home")
			w.WriteHeader(http.StatusFound)
		case "/home":
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "SID=abc", r.Header.Get("Cookie"))
			_, _ = w.Write([]byte("welcome"))
		case "/x":
			laterCookie.Store(r.Header.Get("Cookie"))
			_, _ = w.Write([]byte("x"))
		}
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	body, err := s.DoRequest(MethodPost, server.URL+"/login", map[string]string{"user": "u", "pass": "p"}, "UTF-8")
	require.NoError(t, err)
	assert.Equal(t, "welcome", body)
	assert.Equal(t, server.URL+"/home", rt.lastRequest().URL)
	assert.Equal(t, int32(2), rt.releases.Load())

	_, err = s.Get(server.URL+"/x", "UTF-8")
	require.NoError(t, err)
	assert.Equal(t, "SID=abc", laterCookie.Load())
}

func TestSession_PostRedirectWithoutLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			w.WriteHeader(http.StatusSeeOther)
			return
		}
		_, _ = w.Write([]byte("root:" + r.URL.Path))
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	body, err := s.Post(server.URL+"/submit", nil, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "root:/", body)
}

func TestSession_PostRedirectStatuses(t *testing.T) {
	for _, status := range []int{301, 302, 303, 304, 305, 307} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == "POST" {
					w.Header().Set("Location", "/next")
					w.WriteHeader(status)
					return
				}
				_, _ = w.Write([]byte("followed"))
			}))
			defer server.Close()

			s, _ := newTestSession(t)
			body, err := s.Post(server.URL, map[string]string{"a": "1"}, "UTF-8")

			require.NoError(t, err)
			assert.Equal(t, "followed", body)
		})
	}
}

func TestSession_NarrowedRedirectStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			w.Header().Set("Location", "/next")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("followed"))
	}))
	defer server.Close()

	s, rt := newTestSession(t, WithRedirectStatuses(301, 302, 303, 307))
	body, err := s.Post(server.URL, nil, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "", body)
	assert.Equal(t, "POST", rt.lastRequest().Method)
}

func TestSession_PostRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "application/json", mediaType)
		assert.Equal(t, "UTF-8", params["charset"])
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	body, err := s.DoRequest(MethodPost, server.URL+"/rpc", map[string]string{
		"json":        "true",
		"param":       `{"x":1}`,
		"contentType": "application/json",
	}, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, body)
	assert.Equal(t, `{"x":1}`, rt.lastRequest().Body)
	assert.Equal(t, "application/json", rt.lastRequest().ContentType)
}

func TestSession_PostRawBodyDefaultContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "text/xml", mediaType)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	_, err := s.Post(server.URL, map[string]string{"json": "TRUE", "param": "<a/>"}, "UTF-8")
	require.NoError(t, err)
}

func TestSession_CookieContinuity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/r1":
			http.SetCookie(w, &http.Cookie{Name: "k", Value: "v1", Path: "/"})
		case "/r2":
			http.SetCookie(w, &http.Cookie{Name: "k", Value: "v2", Path: "/"})
		case "/r3":
			_, _ = w.Write([]byte(r.Header.Get("Cookie")))
		}
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	_, err := s.Get(server.URL+"/r1", "UTF-8")
	require.NoError(t, err)
	_, err = s.Get(server.URL+"/r2", "UTF-8")
	require.NoError(t, err)
	body, err := s.Get(server.URL+"/r3", "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "k=v2", body)
}

func TestSession_CookieMirrorKeepsDeletedCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/set":
			http.SetCookie(w, &http.Cookie{Name: "tmp", Value: "1", Path: "/"})
		case "/delete":
			http.SetCookie(w, &http.Cookie{Name: "tmp", Value: "", Path: "/", MaxAge: -1})
		}
	}))
	defer server.Close()

	tests := []struct {
		name     string
		sync     bool
		wantKept bool
	}{
		{name: "stale entries replayed", sync: false, wantKept: true},
		{name: "mirror synchronized", sync: true, wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, WithCookieMirrorSync(tt.sync))
			_, err := s.Get(server.URL+"/set", "UTF-8")
			require.NoError(t, err)
			_, err = s.Get(server.URL+"/delete", "UTF-8")
			require.NoError(t, err)

			_, kept := s.CookieMirror()["tmp"]
			assert.Equal(t, tt.wantKept, kept)
		})
	}
}

func TestSession_DefaultHeadersSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zh-CN", r.Header.Get("Accept-Language"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/4.0")
		assert.Equal(t, "b", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	s.AddHTTPHeader(map[string]string{"X-Custom": "a"})
	s.AddHTTPHeader(map[string]string{"X-Custom": "b"})

	_, err := s.Get(server.URL, "UTF-8")
	require.NoError(t, err)
}

func TestSession_StreamingCallbackLifetime(t *testing.T) {
	const size = 10 << 20
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := make([]byte, 64<<10)
		for written := 0; written < size; written += len(chunk) {
			_, _ = w.Write(chunk)
		}
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	var captured io.Reader
	var read int64
	err := s.DoRequestStream(func(body io.Reader) error {
		captured = body
		n, err := io.Copy(io.Discard, body)
		read = n
		return err
	}, MethodGet, server.URL, nil, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, int64(size), read)
	assert.Equal(t, int32(1), rt.releases.Load())
	assert.GreaterOrEqual(t, rt.sweeps.Load(), int32(1))

	_, err = captured.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSession_StreamingCallbackFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	boom := errors.New("boom")
	err := s.DoRequestStream(func(body io.Reader) error {
		return boom
	}, MethodGet, server.URL, nil, "UTF-8")

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, KindIO, KindOf(err))
	assert.Equal(t, int32(1), rt.releases.Load())
}

func TestSession_StreamingCallbackPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	assert.Panics(t, func() {
		_ = s.DoRequestStream(func(body io.Reader) error {
			panic("callback exploded")
		}, MethodGet, server.URL, nil, "UTF-8")
	})
	assert.Equal(t, int32(1), rt.releases.Load())
}

func TestSession_UnimplementedMethods(t *testing.T) {
	hits := atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	for _, m := range []MethodType{MethodPut, MethodDelete, MethodOption, MethodTrace} {
		t.Run(m.String(), func(t *testing.T) {
			_, err := s.DoRequest(m, server.URL, nil, "UTF-8")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnimplementedMethod)
			assert.Equal(t, KindUnimplemented, KindOf(err))
		})
	}
	assert.Equal(t, int32(0), hits.Load())
	assert.Nil(t, rt.lastRequest())
}

func TestSession_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, rt := newTestSession(t, WithTimeouts(200*time.Millisecond, time.Second))
	start := time.Now()
	_, err = s.Get("http://"+addr+"/", "UTF-8")

	require.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.GreaterOrEqual(t, rt.sweeps.Load(), int32(1))
}

func TestSession_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	s, _ := newTestSession(t, WithTimeouts(time.Second, 100*time.Millisecond))
	start := time.Now()
	_, err := s.Get(server.URL, "UTF-8")

	require.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSession_Charset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("caf\xe9"))
	}))
	defer server.Close()

	s, rt := newTestSession(t)

	body, err := s.Get(server.URL, "ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", body)

	before := len(rt.requests)
	_, err = s.Get(server.URL, "no-such-charset")
	require.Error(t, err)
	assert.Equal(t, KindCharset, KindOf(err))
	assert.ErrorIs(t, err, ErrUnknownCharset)
	assert.Len(t, rt.requests, before)
}

func TestSession_GzipResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip, deflate", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("compressed hello"))
		_ = gz.Close()
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	body, err := s.Get(server.URL, "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "compressed hello", body)
}

func TestSession_GetFollowsRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			_, _ = w.Write([]byte(r.Header.Get("Cookie")))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "hop", Value: "1", Path: "/"})
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer server.Close()

	s, rt := newTestSession(t)
	body, err := s.Get(server.URL+"/start", "UTF-8")

	require.NoError(t, err)
	assert.Equal(t, "hop=1", body)
	assert.Equal(t, "1", s.CookieMirror()["hop"])
	assert.Equal(t, int32(1), rt.releases.Load())
}

func TestSession_ConcurrentRequests(t *testing.T) {
	var counter atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "n", Value: strings.Repeat("x", int(n%5)+1), Path: "/"})
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	s, _ := newTestSession(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddHTTPHeader(map[string]string{"X-Worker": "w"})
			body, err := s.Get(server.URL, "UTF-8")
			assert.NoError(t, err)
			assert.Equal(t, "ok", body)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), counter.Load())
	assert.Contains(t, s.CookieMirror(), "n")
}

func TestSession_Closed(t *testing.T) {
	s, err := NewSession()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get("http://example.com/", "UTF-8")
	assert.ErrorIs(t, err, ErrSessionClosed)
}
