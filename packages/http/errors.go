package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
)

var (
	// ErrUnimplementedMethod is returned for PUT, DELETE, OPTIONS and TRACE.
	ErrUnimplementedMethod = errors.New("method not implemented")
	// ErrUnknownCharset is returned when a charset name cannot be resolved.
	ErrUnknownCharset = errors.New("unknown charset")
	// ErrStreamClosed is returned by reads on a response stream after its callback returned.
	ErrStreamClosed = errors.New("response stream closed")
	// ErrSessionClosed is returned by requests issued on a closed Session.
	ErrSessionClosed = errors.New("session closed")
)

// ErrorKind classifies failures surfaced by a Session.
type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindIO
	KindUnimplemented
	KindCharset
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindUnimplemented:
		return "unimplemented"
	case KindCharset:
		return "charset"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RequestError wraps the original failure of a request together with its kind.
// The wrapped error is reachable through errors.Is and errors.As.
type RequestError struct {
	Kind   ErrorKind
	Method MethodType
	URL    string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a Session error. Errors that did not come from a
// Session are reported as KindProtocol.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return KindProtocol
}

func newRequestError(kind ErrorKind, method MethodType, rawURL string, err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}
	return &RequestError{Kind: kind, Method: method, URL: rawURL, Err: err}
}

// classifyTransportError decides whether a transport failure happened at the
// socket/stream level or at the HTTP level.
func classifyTransportError(err error) ErrorKind {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	var netErr net.Error
	var errno syscall.Errno
	switch {
	case errors.As(err, &opErr),
		errors.As(err, &errno),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrStreamClosed):
		return KindIO
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindIO
	}
	return KindProtocol
}
