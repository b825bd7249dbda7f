package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"market-signal-engine/internal/logging"
)

// restClient performs GET requests with exponential backoff
type restClient struct {
	name string
	options
}

func newRESTClient(name string, o options) restClient {
	return restClient{name: name, options: o}
}

// getJSON fetches path and decodes the body into out. 4xx responses other
// than 429 are not retried.
func (c restClient) getJSON(ctx context.Context, path string, out interface{}) error {
	url := c.baseURL + path

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.retry.InitialDelay
	strategy.MaxInterval = c.retry.MaxDelay
	strategy.Multiplier = c.retry.BackoffFactor
	strategy.MaxElapsedTime = 0
	if !c.retry.Jitter {
		strategy.RandomizationFactor = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.retry.MaxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("error fetching %s: %w", path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error reading response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := fmt.Errorf("%s API error: status %d: %s", c.name, resp.StatusCode, truncate(body, 200))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("error parsing %s response: %w", c.name, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).WithComponent("exchange").Debug("Ticker fetch failed, retrying",
			"exchange", c.name, "path", path, "attempt", attempt, "wait", wait.String(), "error", err)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

// parseFloat reads the numeric strings exchanges return, treating blanks as 0
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
