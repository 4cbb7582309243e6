package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned by repositories on unique constraint violations.
var ErrDuplicate = errors.New("record already exists")

// ErrorKind classifies failures for callers; each kind maps to one HTTP status.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRequest
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindConflict
	KindLocked
	KindRateLimited
	KindStoreUnavailable
)

// Error is a classified application error with a stable text code.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Terminal outcomes of the auth flows. Compare with errors.Is.
var (
	ErrInvalidCredentials   = &Error{Kind: KindUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrAccountLocked        = &Error{Kind: KindLocked, Code: "ACCOUNT_LOCKED", Message: "account is temporarily locked due to failed login attempts"}
	ErrClinicNotFound       = &Error{Kind: KindNotFound, Code: "CLINIC_NOT_FOUND", Message: "clinic not found or inactive"}
	ErrSubscriptionInactive = &Error{Kind: KindForbidden, Code: "SUBSCRIPTION_INACTIVE", Message: "clinic subscription is not active"}
	ErrUserInactive         = &Error{Kind: KindNotFound, Code: "USER_INACTIVE", Message: "user not found or inactive"}
	ErrClinicUnavailable    = &Error{Kind: KindForbidden, Code: "CLINIC_UNAVAILABLE", Message: "clinic not found or subscription inactive"}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrWrongPassword        = &Error{Kind: KindInvalidRequest, Code: "INVALID_REQUEST", Message: "current password is incorrect"}
	ErrRateLimited          = &Error{Kind: KindRateLimited, Code: "RATE_LIMITED", Message: "rate limit exceeded"}
)

// InvalidRequest reports malformed input.
func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: "INVALID_REQUEST", Message: msg}
}

// Forbidden reports a tenant or role check failure.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Code: "CONFLICT", Message: msg}
}

// StoreUnavailable wraps a storage failure so it is never mistaken for an
// authentication outcome.
func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Code: "STORE_UNAVAILABLE", Message: "credential store unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
