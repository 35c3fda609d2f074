package common

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindConflict      ErrorKind = "CONFLICT"
	KindSignature     ErrorKind = "SIGNATURE_ERROR"
	KindConfiguration ErrorKind = "CONFIGURATION_ERROR"
	KindUpstream      ErrorKind = "UPSTREAM_ERROR"
)

// AppError is an error the HTTP layer knows how to render.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors of the same kind and message so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindConflict, KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrMissingSignature     = &AppError{Kind: KindSignature, Message: "missing webhook signature"}
	ErrInvalidSignature     = &AppError{Kind: KindSignature, Message: "invalid webhook signature"}
	ErrWebhookSecretMissing = &AppError{Kind: KindConfiguration, Message: "webhook secret not configured"}
	ErrSubscriptionNotFound = &AppError{Kind: KindNotFound, Message: "subscription not found"}
	ErrUserNotFound         = &AppError{Kind: KindNotFound, Message: "user not found"}
	ErrAlreadyCancelled     = &AppError{Kind: KindConflict, Message: "subscription is already cancelled"}
	ErrNotCancelled         = &AppError{Kind: KindConflict, Message: "subscription is not scheduled for cancellation"}
)

func ValidationError(message string) error {
	return &AppError{Kind: KindValidation, Message: message}
}

func ConfigurationError(message string) error {
	return &AppError{Kind: KindConfiguration, Message: message}
}

// UpstreamError wraps a billing provider failure. Message is shown to the caller.
func UpstreamError(message string, err error) error {
	return &AppError{Kind: KindUpstream, Message: message, Err: err}
}

// HTTPStatus maps err to a response code. Errors outside the taxonomy are 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to return to a client for err.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
