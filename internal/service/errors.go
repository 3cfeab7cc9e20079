package service

import (
	"errors"
	"net/http"
)

// Kind classifies OTP failures so the transport layer can map them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDelivery
	KindNotFound
	KindExpired
	KindMismatch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDelivery:
		return "delivery"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindMismatch:
		return "mismatch"
	default:
		return "internal"
	}
}

// Error is returned by OTPService for every failed request. Message is safe to
// show to clients; Err carries the underlying cause when there is one.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// StatusCode maps the error kind to the HTTP status the API responds with.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindNotFound, KindExpired, KindMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrDelivery   = &Error{Kind: KindDelivery}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrExpired    = &Error{Kind: KindExpired}
	ErrMismatch   = &Error{Kind: KindMismatch}
	ErrInternal   = &Error{Kind: KindInternal}
)

const (
	MsgPhoneRequired       = "Phone number is required"
	MsgPhoneAndOTPRequired = "Phone number and OTP are required"
	MsgSendFailed          = "Failed to send OTP"
	MsgNoPendingOTP        = "No OTP sent to this phone number"
	MsgExpired             = "OTP has expired"
	MsgInvalidOTP          = "Invalid OTP"
	MsgInternal            = "Internal server error"
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
