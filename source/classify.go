package source

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/variazioni/layout"
)

// ErrorClass categorizes a failure for the run log.
type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClassTemporary ErrorClass = "temporary" // transport errors, retries exhausted, 5xx
	ClassNotFound  ErrorClass = "not_found" // 404, 410
	ClassStatus    ErrorClass = "status"    // any other non-2xx
	ClassLayout    ErrorClass = "layout"    // listing page changed
	ClassTooLarge  ErrorClass = "too_large"
	ClassNoDate    ErrorClass = "no_date"
	ClassNoMatch   ErrorClass = "no_match" // no parser understood the document
	ClassCanceled  ErrorClass = "canceled"
	ClassUnknown   ErrorClass = "unknown"
)

// Classify maps an error from discovery, download or parsing to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var se *StatusError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, ErrLayoutChanged):
		return ClassLayout
	case errors.As(err, &se):
		switch {
		case se.Code == 404 || se.Code == 410:
			return ClassNotFound
		case se.Code >= 500:
			return ClassTemporary
		}
		return ClassStatus
	case errors.Is(err, ErrDownloadFailed):
		return ClassTemporary
	case errors.Is(err, ErrTooLarge):
		return ClassTooLarge
	case errors.Is(err, ErrNoDate):
		return ClassNoDate
	case errors.Is(err, layout.ErrNoMatch):
		return ClassNoMatch
	case isNetworkError(strings.ToLower(err.Error())):
		return ClassTemporary
	}
	return ClassUnknown
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
