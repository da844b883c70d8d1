package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/httpx"
)

// HTTPError carries the status, body sample, and any Retry-After hint of
// a failed upstream call so callers can branch without re-reading the
// response.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "upstream http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

func (e *HTTPError) RetryAfterHint() time.Duration { return e.RetryAfter }

var (
	_ httpx.HTTPStatusCoder  = (*HTTPError)(nil)
	_ httpx.RetryAfterHinter = (*HTTPError)(nil)
)

// classify maps provider failures onto transport-agnostic codes once, at
// the provider boundary. Anything unrecognized passes through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusTooManyRequests && strings.Contains(he.Body, "insufficient_quota"):
			return apierr.QuotaExhausted(err)
		case he.StatusCode == http.StatusTooManyRequests:
			return apierr.RateLimited(err)
		case he.StatusCode == http.StatusPaymentRequired:
			return apierr.QuotaExhausted(err)
		}
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests && strings.Contains(strings.ToLower(gerr.Message), "quota"):
			return apierr.QuotaExhausted(err)
		case gerr.Code == http.StatusTooManyRequests:
			return apierr.RateLimited(err)
		case gerr.Code == http.StatusForbidden, gerr.Code == http.StatusPaymentRequired:
			return apierr.QuotaExhausted(err)
		}
	}
	return err
}
