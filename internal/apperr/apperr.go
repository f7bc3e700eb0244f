// Package apperr defines the closed set of operational error kinds returned
// by the auth subsystem and their transport mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	UserExists
	InvalidCredentials
	AccountLocked
	AccountDeactivated
	NoRefreshToken
	InvalidRefreshToken
	NotAuthenticated
	TokenExpired
	InvalidToken
	PasswordChanged
	InsufficientPermissions
	NotAuthorized
	UserNotFound
	NotFound
	RateLimited
	AuthRateLimited
	RegistrationRateLimited
	RefreshRateLimited
	BruteForce
)

type mapping struct {
	code   string
	status int
}

var table = map[Kind]mapping{
	Internal:                {"INTERNAL_SERVER_ERROR", http.StatusInternalServerError},
	Validation:              {"VALIDATION_ERROR", http.StatusBadRequest},
	UserExists:              {"USER_EXISTS", http.StatusConflict},
	InvalidCredentials:      {"INVALID_CREDENTIALS", http.StatusUnauthorized},
	AccountLocked:           {"ACCOUNT_LOCKED", http.StatusForbidden},
	AccountDeactivated:      {"ACCOUNT_DEACTIVATED", http.StatusForbidden},
	NoRefreshToken:          {"NO_REFRESH_TOKEN", http.StatusUnauthorized},
	InvalidRefreshToken:     {"INVALID_REFRESH_TOKEN", http.StatusUnauthorized},
	NotAuthenticated:        {"NOT_AUTHENTICATED", http.StatusUnauthorized},
	TokenExpired:            {"TOKEN_EXPIRED", http.StatusUnauthorized},
	InvalidToken:            {"INVALID_TOKEN", http.StatusUnauthorized},
	PasswordChanged:         {"PASSWORD_CHANGED", http.StatusUnauthorized},
	InsufficientPermissions: {"INSUFFICIENT_PERMISSIONS", http.StatusForbidden},
	NotAuthorized:           {"NOT_AUTHORIZED", http.StatusForbidden},
	UserNotFound:            {"USER_NOT_FOUND", http.StatusNotFound},
	NotFound:                {"NOT_FOUND", http.StatusNotFound},
	RateLimited:             {"RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	AuthRateLimited:         {"AUTH_RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	RegistrationRateLimited: {"REGISTRATION_RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	RefreshRateLimited:      {"REFRESH_RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	BruteForce:              {"BRUTE_FORCE_DETECTED", http.StatusTooManyRequests},
}

func (k Kind) Code() string {
	if m, ok := table[k]; ok {
		return m.code
	}
	return table[Internal].code
}

func (k Kind) Status() int {
	if m, ok := table[k]; ok {
		return m.status
	}
	return table[Internal].status
}

func (k Kind) String() string { return k.Code() }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return e.Kind.Code() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Internalf wraps an infrastructure failure. The message is never shown
// to clients in production.
func Internalf(err error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), Err: err}
}

func Invalid(fields ...FieldError) *Error {
	msg := "Validation failed"
	if len(fields) == 1 {
		msg = fields[0].Message
	}
	return &Error{Kind: Validation, Message: msg, Fields: fields}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns Internal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
