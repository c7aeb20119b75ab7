// Package apperr defines the error taxonomy shared by every component,
// independent of any single transport's status codes.
package apperr

import "errors"

// Kind classifies an error for the purpose of propagation policy, not presentation.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindPublishFailed     Kind = "publish_failed"
	KindTransient         Kind = "transient"
	KindMalformed         Kind = "malformed"
	KindGeohashUnavailable Kind = "geohash_unavailable"
	KindBadParameter      Kind = "bad_parameter"
	KindInternal          Kind = "internal"
)

// Error wraps an underlying cause with a Kind, so callers can branch with errors.As
// without coupling to the transport layer that will eventually render it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

func InvalidInput(msg string, cause error) *Error { return New(KindInvalidInput, msg, cause) }
func NotFound(msg string, cause error) *Error     { return New(KindNotFound, msg, cause) }
func StoreUnavailable(msg string, cause error) *Error {
	return New(KindStoreUnavailable, msg, cause)
}
func PublishFailed(msg string, cause error) *Error { return New(KindPublishFailed, msg, cause) }
func Transient(msg string, cause error) *Error     { return New(KindTransient, msg, cause) }
func Malformed(msg string, cause error) *Error     { return New(KindMalformed, msg, cause) }
func BadParameter(msg string, cause error) *Error  { return New(KindBadParameter, msg, cause) }
func Internal(msg string, cause error) *Error      { return New(KindInternal, msg, cause) }
