package providers

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/temcen/podrex/pkg/models"
)

// WithRetry runs op up to 1+maxRetries times with exponential backoff
// between attempts (backoff, 2*backoff, 4*backoff, ...). Retries stop as
// soon as the context is done; the last error is returned unclassified so
// callers decide the upstream kind.
func WithRetry(ctx context.Context, maxRetries int, backoff time.Duration, op func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff << (attempt - 1)):
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

// ClassifyUpstream folds transport errors into the two upstream kinds the
// handlers map to 503. Deadline and network timeouts become UPSTREAM_TIMEOUT,
// everything else UPSTREAM_UNAVAILABLE. Errors that already carry a kind pass
// through untouched.
func ClassifyUpstream(err error, provider string) error {
	if err == nil {
		return nil
	}
	if _, ok := models.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return models.WrapError(models.ErrUpstreamTimeout, err, "%s timed out", provider)
	}
	return models.WrapError(models.ErrUpstreamUnavailable, err, "%s unavailable", provider)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
