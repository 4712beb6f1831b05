package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimited marks an exchange rate-limit rejection. The throttle backs
// off once and surfaces the error wrapped so callers can retry next cycle.
var ErrRateLimited = errors.New("rate limited by exchange")

// IsRetryable reports whether an error should be retried on the next
// loop iteration rather than treated as fatal
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded)
}

// Throttle bounds outbound calls to the exchange: at most maxConcurrent in
// flight process-wide, with a mandatory minimum delay between call starts.
type Throttle struct {
	sem      chan struct{}
	minDelay time.Duration
	backoff  time.Duration

	mu       sync.Mutex
	lastCall time.Time

	logger zerolog.Logger
}

// NewThrottle creates a throttle allowing maxConcurrent simultaneous calls
func NewThrottle(maxConcurrent int, minDelay, backoff time.Duration, logger zerolog.Logger) *Throttle {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Throttle{
		sem:      make(chan struct{}, maxConcurrent),
		minDelay: minDelay,
		backoff:  backoff,
		logger:   logger.With().Str("component", "throttle").Logger(),
	}
}

// Do runs fn under the concurrency gate and inter-call delay. On a
// rate-limit error it sleeps the backoff once and returns a retryable error.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.sem }()

	if err := t.waitMinDelay(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	if errors.Is(err, ErrRateLimited) {
		t.logger.Warn().Dur("backoff", t.backoff).Msg("rate limit hit, backing off")
		select {
		case <-time.After(t.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		return fmt.Errorf("throttled call failed: %w", err)
	}
	return err
}

// waitMinDelay enforces the minimum spacing between call starts
func (t *Throttle) waitMinDelay(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := time.Now()
		wait := t.minDelay - now.Sub(t.lastCall)
		if wait <= 0 {
			t.lastCall = now
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
