package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrEmptyResponse means the envelope parsed but carried no text
	ErrEmptyResponse = errors.New("empty response from provider")
	// ErrMalformedResponse means the envelope was not valid JSON
	ErrMalformedResponse = errors.New("malformed response envelope")
)

// APIError is a provider call that returned a non-2xx status or an unusable
// envelope
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += " - " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

var rateLimitPhrases = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota",
	"resource_exhausted",
}

// IsRateLimit reports whether err signals provider throttling, either by a 429
// status or by its wording
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
