package auth

import (
	"errors"
	"net/http"
)

// Kind classifies an Error for the HTTP boundary.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindBadRequest      Kind = "BAD_REQUEST"
	KindConflict        Kind = "CONFLICT"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindTooManyRequests Kind = "TOO_MANY_REQUESTS"
)

// Messages returned to clients. Unknown-email and wrong-password failures
// share one message so responses cannot be used to enumerate accounts.
const (
	MsgEmailExists        = "Email already exists"
	MsgUsernameExists     = "Username already exists"
	MsgRegistrationFailed = "Registration failed"
	MsgInvalidCredentials = "Invalid email or password"
	MsgAccountLocked      = "Account is locked"
	MsgInvalidRefresh     = "Invalid refresh token"
	MsgRefreshExpired     = "Refresh token expired"
	MsgPasswordsMismatch  = "New passwords do not match"
	MsgPasswordUnchanged  = "New password must be different from current password"
	MsgUserNotFound       = "User not found"
	MsgWrongPassword      = "Current password is incorrect"
	MsgUnauthorized       = "Unauthorized"
	MsgTooManyAttempts    = "Too many login attempts"
	MsgInvalidPayload     = "Invalid request body"
	MsgValidationFailed   = "Validation failed"
	msgInternal           = "internal error"
)

// FieldError names one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a domain failure with a stable kind and client-facing message.
// Err, when set, is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind onto an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func validationError(fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: MsgValidationFailed, Fields: fields}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
