package services

import (
	"errors"
	"net/http"

	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/drive"
)

// Standard service errors
var (
	// Protocol errors
	ErrAlreadyReverted = errors.New("change log already reverted")
	ErrUndoInFlight    = errors.New("undo already in progress for this record")
	ErrRecordNotFound  = errors.New("record not found")

	// Data errors
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input provided")
	ErrTargetNotFound = errors.New("target not found")
	ErrNoScan         = errors.New("no completed scan")

	// Remote errors
	ErrUnauthorized = errors.New("unauthorized access")
	ErrRateLimited  = errors.New("rate limited")

	// Collaborator errors
	ErrOracleUnavailable = errors.New("classification oracle not configured")
	ErrStoreUnavailable  = errors.New("persistence store not configured")
)

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if drive.IsTransient(err) {
		return true
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUndoInFlight) ||
		errors.Is(err, db.ErrRevertInProgress)
}

// IsPermanentError determines if an error is permanent and should not be retried
func IsPermanentError(err error) bool {
	switch drive.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusBadRequest:
		return true
	case http.StatusForbidden:
		if !drive.IsTransient(err) {
			return true
		}
	}
	var apiErr *drive.RemoteAPIError
	if errors.As(err, &apiErr) && apiErr.Exhausted {
		return true
	}
	return errors.Is(err, ErrAlreadyReverted) ||
		errors.Is(err, db.ErrAlreadyReverted) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, db.ErrNotFound) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrUnauthorized)
}
