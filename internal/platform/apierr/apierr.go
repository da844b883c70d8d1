package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried alongside HTTP statuses. Handlers map these to the
// wire-level {"error": ...} payload; internal callers branch on them.
const (
	CodeConfiguration  = "configuration"
	CodeValidation     = "validation"
	CodeNotFound       = "not_found"
	CodeRateLimited    = "rate_limited"
	CodeQuotaExhausted = "quota_exhausted"
	CodeExtraction     = "extraction"
	CodeEmbedding      = "embedding"
	CodePersistence    = "persistence"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Configuration(format string, args ...interface{}) *Error {
	return New(http.StatusInternalServerError, CodeConfiguration, fmt.Errorf(format, args...))
}

func Validation(format string, args ...interface{}) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func RateLimited(err error) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, err)
}

func QuotaExhausted(err error) *Error {
	return New(http.StatusPaymentRequired, CodeQuotaExhausted, err)
}

func Extraction(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeExtraction, err)
}

func Embedding(err error) *Error {
	return New(http.StatusBadGateway, CodeEmbedding, err)
}

func Persistence(err error) *Error {
	return New(http.StatusInternalServerError, CodePersistence, err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// StatusOf extracts the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}
