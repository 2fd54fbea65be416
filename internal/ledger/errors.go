package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every operation failure wraps exactly one of these so that
// callers can tell authorization, validation and timing failures apart.
var (
	// ErrUnauthorized is returned when the caller does not match the recorded owner or authority.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProgramPaused is returned for mutations while the config pause flag is set.
	ErrProgramPaused = errors.New("program paused")

	// ErrInvalidInput is returned for malformed identifiers, oversize strings and out-of-range values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited is returned when an event arrives before min_event_interval has elapsed.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create targets an occupied key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDelegated is returned for durable writes on a key controlled by the rollup venue.
	ErrDelegated = errors.New("record delegated to rollup")

	// ErrNotDelegated is returned for a commit against a key that is not delegated to the sender.
	ErrNotDelegated = errors.New("record not delegated")

	// ErrStaleCommit is returned for a commit whose nonce or sequence was already superseded.
	ErrStaleCommit = errors.New("stale commit")

	// ErrNotVerified is returned when an unverified manufacturer attempts a gated action.
	ErrNotVerified = fmt.Errorf("%w: manufacturer not verified", ErrUnauthorized)
)

// Code is the numeric form of the taxonomy used on the wire.
type Code uint8

const (
	CodeOK Code = iota
	CodeUnauthorized
	CodeProgramPaused
	CodeInvalidInput
	CodeRateLimited
	CodeNotFound
	CodeAlreadyExists
	CodeDelegated
	CodeNotDelegated
	CodeStaleCommit
	CodeInternal
)

// codeTable maps each code to its sentinel. Order matters: more specific
// sentinels must precede the ones they wrap.
var codeTable = []struct {
	code Code
	err  error
	name string
}{
	{CodeUnauthorized, ErrUnauthorized, "Unauthorized"},
	{CodeProgramPaused, ErrProgramPaused, "ProgramPaused"},
	{CodeInvalidInput, ErrInvalidInput, "InvalidInput"},
	{CodeRateLimited, ErrRateLimited, "RateLimited"},
	{CodeNotFound, ErrNotFound, "NotFound"},
	{CodeAlreadyExists, ErrAlreadyExists, "AlreadyExists"},
	{CodeDelegated, ErrDelegated, "Delegated"},
	{CodeNotDelegated, ErrNotDelegated, "NotDelegated"},
	{CodeStaleCommit, ErrStaleCommit, "StaleCommit"},
}

// CodeOf returns the taxonomy code for err. Nil maps to CodeOK and
// anything outside the taxonomy to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}

	return CodeInternal
}

// Kind returns the taxonomy name of err, e.g. "RateLimited".
func Kind(err error) string {
	code := CodeOf(err)

	switch code {
	case CodeOK:
		return "OK"
	case CodeInternal:
		return "Internal"
	}

	for _, e := range codeTable {
		if e.code == code {
			return e.name
		}
	}

	return "Internal"
}

// CodeByKind is the inverse of Kind for the taxonomy names.
func CodeByKind(kind string) (Code, bool) {
	for _, e := range codeTable {
		if e.name == kind {
			return e.code, true
		}
	}

	return CodeInternal, false
}

// FromCode rebuilds an error received from a remote venue so that errors.Is
// keeps working across the wire.
func FromCode(code Code, msg string) error {
	if code == CodeOK {
		return nil
	}

	for _, e := range codeTable {
		if e.code == code {
			if msg == "" || msg == e.err.Error() {
				return e.err
			}
			return &remoteError{kind: e.err, msg: msg}
		}
	}

	return errors.New(msg)
}

// remoteError keeps the sender's message verbatim while matching its sentinel.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// Retryable reports whether resubmitting the same operation later can succeed.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeDelegated:
		return true
	default:
		return false
	}
}

// Refused reports whether err is a taxonomy error, meaning the receiver
// handled the request and turned it down. Transport failures and timeouts
// are not refusals: the request may or may not have been applied.
func Refused(err error) bool {
	code := CodeOf(err)
	return code != CodeOK && code != CodeInternal
}

// invalidf builds an ErrInvalidInput with detail.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
