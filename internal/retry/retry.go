package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/veoflow/api/internal/pkg/logger"
)

const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = 5 * time.Second
	DefaultMultiplier   = 1.5
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Policy controls how Do retries quota-limited operations.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	// Name labels log lines, e.g. "video.poll".
	Name string
	Log  *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 5 retries starting at 5s, growing by 1.5x.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Named returns a copy of the policy with the given log label.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Do runs op and retries it while it fails with a quota-shaped error and
// retries remain. Every other error, and the last quota error once the budget
// is spent, is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retries := p.MaxRetries
	delay := p.InitialDelay
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempt := 0
	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if retries <= 0 || !IsQuotaError(err) {
			return result, err
		}

		attempt++
		if p.Log != nil {
			p.Log.Warn("quota limit hit, retrying",
				"op", p.Name,
				"attempt", attempt,
				"max_retries", p.MaxRetries,
				"delay", delay.String(),
				"error", err.Error(),
			)
		}

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			var zero T
			return zero, sleepErr
		}
		retries--
		delay = time.Duration(float64(delay) * multiplier)
	}
}

// IsQuotaError reports whether err looks like a rate-limit or quota
// condition: HTTP 429, or a message mentioning 429, quota or resource
// exhaustion.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	return IsQuotaMessage(err.Error())
}

// IsQuotaMessage applies the quota patterns to a raw message or body.
func IsQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "exhausted")
}

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
