package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/httpx"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

// DefaultMaxChars caps the text sent to the embedding provider. Longer
// inputs are truncated silently rather than rejected.
const DefaultMaxChars = 8000

// SleepFunc waits for d or until ctx is done. Injected so tests run
// without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client wraps an EmbeddingProvider with input truncation and
// rate-limit-aware retries. Non-rate-limit failures surface immediately.
type Client struct {
	provider core.EmbeddingProvider
	policy   RetryPolicy
	maxChars int
	wantDim  int
	sleep    SleepFunc
	log      *logger.Logger
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p.MaxAttempts > 0 {
			c.policy = p
		}
	}
}

func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithExpectedDim rejects vectors whose length differs from n. The vector
// column has a fixed dimension, so a mismatched model should fail here
// with a readable error rather than at insert time.
func WithExpectedDim(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.wantDim = n
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(provider core.EmbeddingProvider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		policy:   DefaultRetryPolicy(),
		maxChars: DefaultMaxChars,
		sleep:    defaultSleep,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the vector for a single text. Rate-limit errors are
// retried per the policy, honoring any Retry-After hint when it exceeds
// the computed backoff; any other provider error is returned at once.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, c.maxChars)

	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.policy.Delay(attempt - 1)
			if hint, ok := retryAfterHint(lastErr); ok && hint > wait {
				wait = hint
			}
			c.log.Warn("embedding rate limited, backing off",
				"attempt", attempt, "wait", wait.String())
			if err := c.sleep(ctx, httpx.JitterSleep(wait)); err != nil {
				return nil, err
			}
		}

		vecs, err := c.provider.EmbedTexts(ctx, []string{text})
		if err == nil {
			if len(vecs) != 1 {
				return nil, apierr.Embedding(fmt.Errorf("provider returned %d vectors for one input", len(vecs)))
			}
			if c.wantDim > 0 && len(vecs[0]) != c.wantDim {
				return nil, apierr.Embedding(fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vecs[0]), c.wantDim))
			}
			return vecs[0], nil
		}
		if !isRateLimited(err) {
			var ae *apierr.Error
			if errors.As(err, &ae) {
				return nil, err
			}
			return nil, apierr.Embedding(err)
		}
		lastErr = err
	}
	return nil, apierr.RateLimited(fmt.Errorf("still rate limited after %d attempts: %w", c.policy.MaxAttempts, lastErr))
}

// ItemResult is the settled outcome for one text in a batch.
type ItemResult struct {
	Index  int
	Vector []float32
	Err    error
}

// EmbedBatch embeds texts with at most width in flight at a time. Every
// item settles independently, so one failed text never discards the
// vectors of its siblings.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, width int) []ItemResult {
	if width <= 0 {
		width = 1
	}
	results := make([]ItemResult, len(texts))
	sem := make(chan struct{}, width)
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			vec, err := c.Embed(ctx, text)
			results[i] = ItemResult{Index: i, Vector: vec, Err: err}
		}(i, text)
	}
	wg.Wait()
	return results
}

// Truncate trims s to at most max characters, counting runes so a
// multi-byte character is never split.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func isRateLimited(err error) bool {
	if apierr.Is(err, apierr.CodeRateLimited) {
		return true
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode() == 429
	}
	return false
}

func retryAfterHint(err error) (time.Duration, bool) {
	var h httpx.RetryAfterHinter
	if errors.As(err, &h) {
		if d := h.RetryAfterHint(); d > 0 {
			return d, true
		}
	}
	return 0, false
}
