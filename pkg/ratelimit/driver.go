// Package ratelimit implements the rate-limit-aware retry driver of
// spec.md §4.5: every upstream RPC is wrapped with a retry/backoff
// policy derived from explicit wait hints, layered under a steady-state
// token-bucket throttle and a per-source circuit breaker.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sipeed/tgvideosorter/pkg/logger"
)

// maxRetries is the retry budget referenced throughout spec.md §4.5 and
// §8 testable property #7: any single RPC wrapper invokes the underlying
// RPC at most 1 (initial) + 3 (retries) = 4 times.
const maxRetries = 3

// ErrFlood signals the upstream protocol's rate-limiting signal (spec.md
// §4.5, §6): recognized when errorMessage == "FLOOD_WAIT" or code == 420
// and a seconds hint is present.
type ErrFlood struct {
	Seconds int
}

func (e *ErrFlood) Error() string {
	return fmt.Sprintf("flood wait: retry after %ds", e.Seconds)
}

// ErrTransient signals a transient-other error (420 without an explicit
// seconds hint, or a generic network error) eligible for exponential
// backoff.
type ErrTransient struct {
	Cause error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *ErrTransient) Unwrap() error { return e.Cause }

// Driver wraps upstream RPCs with the retry/backoff policy, a steady-
// state token-bucket throttle, and a per-source-chat circuit breaker.
type Driver struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	breakers   map[int64]*gobreaker.CircuitBreaker[any]
	newBreaker func(chatID int64) *gobreaker.CircuitBreaker[any]
}

// New constructs a Driver. perSecond/burst configure the steady-state
// token bucket (spec.md's "inter-batch pacing" is layered by callers on
// top of this, not replaced by it).
func New(perSecond float64, burst int) *Driver {
	d := &Driver{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		breakers: make(map[int64]*gobreaker.CircuitBreaker[any]),
	}
	d.newBreaker = func(chatID int64) *gobreaker.CircuitBreaker[any] {
		return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        fmt.Sprintf("source-%d", chatID),
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return d
}

func (d *Driver) breakerFor(chatID int64) *gobreaker.CircuitBreaker[any] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakers[chatID]; ok {
		return b
	}
	b := d.newBreaker(chatID)
	d.breakers[chatID] = b
	return b
}

// Do executes fn under the retry/backoff policy. sourceChatID scopes the
// circuit breaker; pass 0 for RPCs with no single source chat (e.g.
// destination-chat operations).
func (d *Driver) Do(ctx context.Context, sourceChatID int64, fn func(ctx context.Context) error) error {
	breaker := d.breakerFor(sourceChatID)

	_, err := breaker.Execute(func() (any, error) {
		return nil, d.doWithRetry(ctx, fn)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logger.WarnCF("ratelimit", "circuit breaker open, skipping source", map[string]any{
				"source_chat_id": sourceChatID,
			})
		}
		return err
	}
	return nil
}

func (d *Driver) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ratelimit: wait for token: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if attempt == maxRetries {
			return err
		}

		var flood *ErrFlood
		if errors.As(err, &flood) {
			logger.WarnCF("ratelimit", "flood wait, sleeping before retry", map[string]any{
				"seconds": flood.Seconds,
				"attempt": attempt + 1,
			})
			if sleepErr := sleepCtx(ctx, time.Duration(flood.Seconds)*time.Second); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		var transient *ErrTransient
		if errors.As(err, &transient) {
			backoff := time.Duration(1<<uint(attempt)) * 5 * time.Second
			logger.WarnCF("ratelimit", "transient error, backing off before retry", map[string]any{
				"backoff": backoff.String(),
				"attempt": attempt + 1,
				"error":   transient.Error(),
			})
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		// Fatal: anything else surfaces immediately without consuming
		// further retry budget.
		return err
	}
	return nil
}

// Sleep performs a cooperative pause through the driver, honoring
// context cancellation (spec.md §4.5's batch/deletion pacing delays and
// §5's cancellation-at-suspension-points contract).
func (d *Driver) Sleep(ctx context.Context, dur time.Duration) error {
	return sleepCtx(ctx, dur)
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
