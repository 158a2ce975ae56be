// Package errs defines the error taxonomy shared by the pagerag pipeline.
// Every failure that crosses a component boundary is wrapped in an [*Error]
// whose Kind is one of the sentinel values below, so callers can branch with
// [errors.Is] without depending on the component that produced it.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Compare with errors.Is.
var (
	// ErrConfiguration marks a fatal setup problem such as a missing provider
	// credential. It is never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderRequest marks a non-success HTTP status or a transport failure
	// talking to an embedding or generation provider.
	ErrProviderRequest = errors.New("provider request failed")

	// ErrMalformedResponse marks a provider payload with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrPersistence marks a chunk store or session store read/write failure.
	ErrPersistence = errors.New("persistence failure")
)

// Error carries a taxonomy kind together with the operation that failed and
// the underlying cause.
type Error struct {
	// Kind is one of the sentinel errors declared in this package.
	Kind error
	// Op names the failing operation (e.g. "embedder.embed", "chunkstore.save").
	Op string
	// StatusCode is the HTTP status returned by a provider, when known.
	StatusCode int
	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Configuration wraps err as a configuration error for op.
func Configuration(op string, err error) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: err}
}

// ProviderRequest wraps err as a provider request error for op. status is the
// HTTP status code, or zero for transport failures.
func ProviderRequest(op string, status int, err error) error {
	return &Error{Kind: ErrProviderRequest, Op: op, StatusCode: status, Err: err}
}

// MalformedResponse wraps err as a malformed response error for op.
func MalformedResponse(op string, err error) error {
	return &Error{Kind: ErrMalformedResponse, Op: op, Err: err}
}

// Persistence wraps err as a persistence error for op.
func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// Retryable reports whether err is a provider failure worth retrying.
// Configuration and persistence errors never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderRequest) || errors.Is(err, ErrMalformedResponse)
}
