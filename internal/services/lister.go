package services

import (
	"context"
	"errors"
	"time"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
)

// RetryPolicy bounds retries of transient remote errors
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 1s base delay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns the wait before the attempt following attempt n (1-based)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay << (n - 1)
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListerServiceImpl implements PageLister
type ListerServiceImpl struct {
	remote RemoteStore
	policy RetryPolicy
	sleep  SleepFunc
	logger *log.Logger
}

// NewListerService creates a new page lister
func NewListerService(remote RemoteStore, policy RetryPolicy) *ListerServiceImpl {
	return &ListerServiceImpl{
		remote: remote,
		policy: policy.normalized(),
		sleep:  sleepContext,
		logger: discardLogger(),
	}
}

// SetLogger sets the logger for retry warnings
func (s *ListerServiceImpl) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetSleep replaces the backoff wait
func (s *ListerServiceImpl) SetSleep(sleep SleepFunc) {
	if sleep != nil {
		s.sleep = sleep
	}
}

// ListPage returns one page of children of folderID.
// Transient errors are retried with exponential backoff; anything else,
// or a spent budget, comes back as a *drive.RemoteAPIError.
func (s *ListerServiceImpl) ListPage(ctx context.Context, folderID, pageToken string, pageSize int64, mimeFilter string) (*drive.Page, error) {
	if s.remote == nil {
		return nil, ErrStoreUnavailable
	}
	op := "list children of " + folderID

	for attempt := 1; ; attempt++ {
		page, err := s.remote.ListChildren(ctx, folderID, pageToken, pageSize, mimeFilter)
		if err == nil {
			if page == nil {
				page = &drive.Page{}
			}
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		apiErr := drive.AsRemoteError(op, err)
		if !apiErr.Transient() {
			return nil, apiErr
		}
		if attempt >= s.policy.MaxAttempts {
			return nil, apiErr.Escalate(attempt)
		}

		delay := s.policy.Delay(attempt)
		s.logger.Warn("transient list error, backing off",
			"folder", folderID, "attempt", attempt, "status", apiErr.Status, "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, apiErr.Escalate(attempt)
		}
	}
}
