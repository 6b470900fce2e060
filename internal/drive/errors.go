package drive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// rateLimitReasons are the 403 reasons Drive uses for quota and rate limiting
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":        true,
	"userRateLimitExceeded":    true,
	"quotaExceeded":            true,
	"dailyLimitExceeded":       true,
	"sharingRateLimitExceeded": true,
}

// RemoteAPIError is a failed call against the remote store
type RemoteAPIError struct {
	Op      string
	Status  int
	Reason  string
	Message string

	// Exhausted is set once a retry budget has been spent on this error
	Exhausted bool
	Attempts  int

	Err error
}

func (e *RemoteAPIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	var out string
	switch {
	case e.Status != 0 && e.Reason != "":
		out = fmt.Sprintf("%s: drive api %d %s: %s", e.Op, e.Status, e.Reason, msg)
	case e.Status != 0:
		out = fmt.Sprintf("%s: drive api %d: %s", e.Op, e.Status, msg)
	default:
		out = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Exhausted {
		out = fmt.Sprintf("%s (gave up after %d attempts)", out, e.Attempts)
	}
	return out
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed if retried
func (e *RemoteAPIError) Transient() bool {
	if e == nil || e.Exhausted {
		return false
	}
	switch e.Status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return e.Reason == "" || rateLimitReasons[e.Reason]
	}
	return false
}

// Escalate returns a copy marked as exhausted after the given attempts
func (e *RemoteAPIError) Escalate(attempts int) *RemoteAPIError {
	out := *e
	out.Exhausted = true
	out.Attempts = attempts
	return &out
}

// IsTransient reports whether err wraps a retryable remote error
func IsTransient(err error) bool {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// AsRemoteError converts any error into a *RemoteAPIError for op
func AsRemoteError(op string, err error) *RemoteAPIError {
	if err == nil {
		return nil
	}
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		out := &RemoteAPIError{
			Op:      op,
			Status:  gErr.Code,
			Message: gErr.Message,
			Err:     err,
		}
		if len(gErr.Errors) > 0 {
			out.Reason = gErr.Errors[0].Reason
			if out.Message == "" {
				out.Message = gErr.Errors[0].Message
			}
		}
		return out
	}
	return &RemoteAPIError{Op: op, Message: err.Error(), Err: err}
}
