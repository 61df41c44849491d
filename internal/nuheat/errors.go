package nuheat

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

// Sentinel errors classifying failed API calls. Errors returned by Client wrap
// one of these; test with errors.Is.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrDeviceOffline = errors.New("device offline")
	ErrRateLimited   = errors.New("rate limited")
	ErrServerError   = errors.New("server error")
	ErrNetwork       = errors.New("network failure")
)

// Sentinel errors classifying authentication failures. ErrNetwork covers
// transport failures on the identity endpoint as well.
var (
	// ErrAuthInvalid means the stored token record was rejected and has been
	// cleared: the authorization flow needs to be run again. This is distinct
	// from a transient failure, which leaves the stored record alone.
	ErrAuthInvalid = errors.New("reauthorization required")
	// ErrAuthExpired means the authorization code was no longer valid when it
	// was exchanged.
	ErrAuthExpired = errors.New("authorization expired")
)

// Error is a failed API call.
type Error struct {
	Kind       error // one of the sentinel errors above
	StatusCode int
	Body       string
	err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg += " (HTTP " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *Error) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	return e.Kind
}

func errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		kind = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		kind = ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		// the API rejects writes to an offline thermostat with a 409
		kind = ErrDeviceOffline
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = ErrRateLimited
	default:
		kind = ErrServerError
	}
	return &Error{Kind: kind, StatusCode: resp.StatusCode, Body: string(body)}
}

// AuthError is a failed token acquisition or exchange.
type AuthError struct {
	Kind       error // ErrAuthInvalid, ErrAuthExpired or ErrNetwork
	StatusCode int
	err        error
}

func (e *AuthError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg += " (HTTP " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *AuthError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *AuthError) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	return e.Kind
}
