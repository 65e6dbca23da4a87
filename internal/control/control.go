package control

import (
	"context"
	"errors"
	"net"
	"time"
)

// Policy defines the completion call's timeout and retry behavior. The zero
// value means a single attempt with no deadline.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
}

// RetryBackoff computes exponential backoff with a fixed cap.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30 * time.Second
	}
	d := time.Duration(1<<(attempt-1)) * time.Second
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// ShouldRetry returns whether another attempt is allowed after `attempts`
// failed ones and the failure is worth retrying.
func ShouldRetry(p Policy, attempts int, err error) bool {
	if attempts > p.MaxRetries {
		return false
	}
	return Retryable(err)
}

// Retryable reports whether err looks transient. Caller cancellation is never retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var te interface{ Temporary() bool }
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
