package storage

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrBackendUnavailable marks a hard backend failure after the retry budget
// is exhausted. Callers check it with errors.Is.
var ErrBackendUnavailable = errors.New("storage: backend unavailable")

// transient is implemented by errors that adapters tag as retryable
// themselves, e.g. HTTP 5xx responses from the REST backend.
type transient interface {
	Transient() bool
}

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// markTransient tags err as retryable for IsTransient.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient classifies an error as a connection-level fault expected to
// resolve after reconnect/retry: connection refused/reset, broken pipe,
// host-not-found, a connection dropped mid-response, or a network timeout.
// Everything else (auth failures, malformed data, schema mismatches) is
// terminal and must surface immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tr transient
	if errors.As(err, &tr) && tr.Transient() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func decodeError(key string, err error) error {
	return fmt.Errorf("storage: decode %s: %w", key, err)
}
