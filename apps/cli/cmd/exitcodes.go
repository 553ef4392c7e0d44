package cmd

import (
	"errors"

	"github.com/abdul-hamid-achik/hitclient/packages/capture"
	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// Exit codes for hitclient CLI
const (
	// ExitSuccess indicates the command succeeded
	ExitSuccess = 0

	// ExitFailure indicates a generic failure, including failed bench thresholds
	ExitFailure = 1

	// ExitCheckFailure indicates an --extract path was missing or --schema failed
	ExitCheckFailure = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitNetworkError indicates a network/connection error
	ExitNetworkError = 4

	// ExitProtocolError indicates an HTTP protocol error
	ExitProtocolError = 5

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, capture.ErrSchemaMismatch) {
		return ExitCheckFailure
	}

	var reqErr *hithttp.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case hithttp.KindIO:
			return ExitNetworkError
		case hithttp.KindProtocol:
			return ExitProtocolError
		case hithttp.KindUnimplemented, hithttp.KindCharset:
			return ExitUsageError
		}
	}
	return ExitFailure
}
