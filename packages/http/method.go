package http

import (
	"fmt"
	"net/http"
	"strings"
)

// MethodType is the closed set of request methods a Session recognizes.
type MethodType int

const (
	MethodGet MethodType = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodOption
	MethodTrace
)

var methodNames = map[MethodType]string{
	MethodGet:    http.MethodGet,
	MethodPost:   http.MethodPost,
	MethodPut:    http.MethodPut,
	MethodDelete: http.MethodDelete,
	MethodOption: http.MethodOptions,
	MethodTrace:  http.MethodTrace,
}

func (m MethodType) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MethodType(%d)", int(m))
}

// Implemented reports whether the session can dispatch the method.
// Only GET and POST are wired through the request builder.
func (m MethodType) Implemented() bool {
	return m == MethodGet || m == MethodPost
}

// ParseMethod maps a method name to its MethodType. "OPTION" is accepted as
// an alias of OPTIONS.
func ParseMethod(name string) (MethodType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "OPTION" {
		return MethodOption, nil
	}
	for m, n := range methodNames {
		if n == upper {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown method: %s", name)
}
