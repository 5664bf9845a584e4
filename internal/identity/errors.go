package identity

import (
	"errors"
	"fmt"
)

// ErrAuth classifies every identity-provider failure: sign-up, sign-in,
// sign-out, token verification and token refresh.
var ErrAuth = errors.New("identity: authentication failure")

// Provider error codes, matching the codes Firebase Authentication reports.
const (
	CodeEmailAlreadyInUse = "auth/email-already-in-use"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeUserDisabled      = "auth/user-disabled"
	CodeTooManyRequests   = "auth/too-many-requests"
	CodeTokenExpired      = "auth/id-token-expired"
	CodeTokenRevoked      = "auth/id-token-revoked"
	CodeInvalidToken      = "auth/invalid-id-token"
	CodeInvalidRefresh    = "auth/invalid-refresh-token"
	CodeInternal          = "auth/internal-error"
)

// Error carries the provider's code and message. errors.Is(err, ErrAuth)
// holds for every *Error.
type Error struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("identity: %s: %s", e.Op, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrAuth}
	}
	return []error{ErrAuth, e.Err}
}

func newError(op, code, message string, cause error) *Error {
	return &Error{Op: op, Code: code, Message: message, Err: cause}
}

// ErrorCode returns the provider code carried by err, or CodeInternal for
// errors that did not come from a provider.
func ErrorCode(err error) string {
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Code
	}
	if err == nil {
		return ""
	}
	return CodeInternal
}

// ErrorMessage returns the provider message carried by err, or err.Error().
func ErrorMessage(err error) string {
	var idErr *Error
	if errors.As(err, &idErr) && idErr.Message != "" {
		return idErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
