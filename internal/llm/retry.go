package llm

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// retryWithBackoff executes fn until it yields a response worth returning:
//
//   - 429  → up to maxRetries retries with exponential backoff + jitter
//   - 5xx  → up to maxRetries retries
//   - 401/403 → no retry
//   - network error → up to maxRetries retries
//
// Backoff sleeps honour ctx.
func retryWithBackoff(ctx context.Context, maxRetries int, logger *zap.Logger, fn func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := fn()

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			drainAndClose(resp)
			return nil, fmt.Errorf("%w (%d)", ErrAuth, resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests:
			drainAndClose(resp)
			lastErr = ErrRateLimited
		case resp.StatusCode >= 500:
			drainAndClose(resp)
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt == maxRetries {
			break
		}
		logger.Warn("generation request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxRetries),
			zap.Error(lastErr))
		if err := backoffSleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoffBase is a var so tests can shrink it.
var backoffBase = 500 * time.Millisecond

func backoffSleep(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt)) * backoffBase
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	t := time.NewTimer(base + jitter)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
