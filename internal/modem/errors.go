package modem

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
)

var (
	_ errors.Coded = (*AuthError)(nil)
	_ errors.Coded = (*DataError)(nil)
	_ errors.Coded = (*NetworkError)(nil)
)

type AuthKind int

const (
	AuthInvalidCredentials AuthKind = iota + 1
	AuthAccountLocked
	AuthProtocolError
	AuthNetworkError
)

func (k AuthKind) String() string {
	switch k {
	case AuthInvalidCredentials:
		return "invalid credentials"
	case AuthAccountLocked:
		return "account locked"
	case AuthNetworkError:
		return "network error"
	default:
		return "protocol error"
	}
}

// AuthError is returned by Driver.Login.
type AuthError struct {
	Kind   AuthKind
	Detail string
	// RetryAfter is set when the device announced a wait time.
	RetryAfter time.Duration
	Err        error
}

func (e *AuthError) Error() string {
	msg := "login failed: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Code() errors.ErrorCode {
	switch e.Kind {
	case AuthInvalidCredentials:
		return errors.ErrAuthInvalidCredentials
	case AuthAccountLocked:
		return errors.ErrAuthAccountLocked
	case AuthNetworkError:
		return errors.ErrAuthNetwork
	default:
		return errors.ErrAuthProtocol
	}
}

// DataError means the device answered but the response had an unexpected shape.
type DataError struct {
	Detail string
	Err    error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response: %s: %v", e.Detail, e.Err)
	}
	return "unexpected response: " + e.Detail
}

func (e *DataError) Unwrap() error { return e.Err }

func (*DataError) Code() errors.ErrorCode { return errors.ErrDataFormat }

// NetworkError wraps transport failures, timeouts included.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (*NetworkError) Code() errors.ErrorCode { return errors.ErrNetwork }

// Timeout reports whether the request hit its deadline.
func (e *NetworkError) Timeout() bool {
	if stderrors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(e.Err, &ne) && ne.Timeout()
}

func InvalidCredentials(detail string) *AuthError {
	return &AuthError{Kind: AuthInvalidCredentials, Detail: detail}
}

func AccountLocked(detail string, retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: AuthAccountLocked, Detail: detail, RetryAfter: retryAfter}
}

func ProtocolError(detail string, err error) *AuthError {
	return &AuthError{Kind: AuthProtocolError, Detail: detail, Err: err}
}

func Malformed(detail string, err error) *DataError {
	return &DataError{Detail: detail, Err: err}
}

// IsTransport reports whether err came from the network rather than from a
// response the device sent.
func IsTransport(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	var ue *url.Error
	if stderrors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne)
}

// LoginFailure classifies an error raised during login. Transport failures
// become AuthNetworkError, anything else a protocol error.
func LoginFailure(op string, err error) error {
	var ae *AuthError
	if stderrors.As(err, &ae) {
		return ae
	}
	if IsTransport(err) {
		return &AuthError{Kind: AuthNetworkError, Detail: op, Err: err}
	}
	return ProtocolError(op, err)
}

// ReadFailure classifies an error raised while fetching data pages.
func ReadFailure(op string, err error) error {
	var de *DataError
	if stderrors.As(err, &de) {
		return de
	}
	if IsTransport(err) {
		return &NetworkError{Op: op, Err: err}
	}
	return &DataError{Detail: op, Err: err}
}
