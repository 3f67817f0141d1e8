package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// retryBaseDelay is the unit of the quadratic backoff between attempts.
var retryBaseDelay = time.Second

// doWithRetry runs the request built by buildReq, retrying network errors,
// 429 and 5xx up to maxRetries extra times. Other statuses are returned to
// the caller untouched.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBaseDelay
			backoff := base + time.Duration(rand.Int64N(int64(base/2)+1))
			logger.Warn("retrying provider request", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries+1, lastErr)
}
