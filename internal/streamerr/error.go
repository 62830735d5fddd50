// Package streamerr carries the small set of semantic error kinds the
// streaming cache and prefetch engine can surface to a caller,
// distinguishing a handful of named failure shapes instead of leaking
// raw transport errors upward.
package streamerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a streaming operation failed.
type Kind int

const (
	// KindAborted means an internal channel or write path was dropped out
	// from under the caller: ChannelClosed, OutputLost.
	KindAborted Kind = iota
	// KindUnavailable means the CDN response could not be used at all:
	// MissingHeader, EmptyStream.
	KindUnavailable
	// KindFailedPrecondition means the CDN rejected the range request:
	// HttpStatus(code).
	KindFailedPrecondition
	// KindDeadlineExceeded means a reader wait ran past DOWNLOAD_TIMEOUT:
	// WaitTimeout.
	KindDeadlineExceeded
)

func (k Kind) String() string {
	switch k {
	case KindAborted:
		return "aborted"
	case KindUnavailable:
		return "unavailable"
	case KindFailedPrecondition:
		return "failed_precondition"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}

// StreamError is the single error type every boundary in this repository
// wraps its failures in. Op identifies the failing operation (e.g.
// "fetch.Run", "reader.Read") and Err is the underlying cause, reachable
// through Unwrap so callers can still errors.Is/errors.As through to it.
type StreamError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// New constructs a StreamError, wrapping err (which may be nil) with op.
func New(kind Kind, op string, err error) *StreamError {
	return &StreamError{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *StreamError of the given kind.
func Is(err error, kind Kind) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// HTTPStatus builds the KindFailedPrecondition error for a non-206 CDN
// response; the status code rides along in the message.
func HTTPStatus(op string, code int) *StreamError {
	return New(KindFailedPrecondition, op, fmt.Errorf("unexpected status %d %s", code, http.StatusText(code)))
}

// MissingHeader builds the KindUnavailable error for a CDN response that
// omitted Content-Range.
func MissingHeader(op, header string) *StreamError {
	return New(KindUnavailable, op, fmt.Errorf("missing or malformed %s header", header))
}

// EmptyStream builds the KindUnavailable error for a response whose first
// chunk never arrived.
func EmptyStream(op string) *StreamError {
	return New(KindUnavailable, op, errors.New("first chunk never arrived"))
}

// ChannelClosed builds the KindAborted error for a dropped receiving end.
func ChannelClosed(op string) *StreamError {
	return New(KindAborted, op, errors.New("receiving end closed"))
}

// OutputLost builds the KindAborted error for an unusable temp file write
// handle.
func OutputLost(op string, err error) *StreamError {
	return New(KindAborted, op, fmt.Errorf("output write handle unusable: %w", err))
}

// WaitTimeout builds the KindDeadlineExceeded error for a reader that
// exceeded DOWNLOAD_TIMEOUT without progress.
func WaitTimeout(op string) *StreamError {
	return New(KindDeadlineExceeded, op, errors.New("timed out waiting for download progress"))
}
