// Package checkout drives a checkout intent from buyer details to a settled
// order by polling the commerce API.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

// ErrPollTimeout is returned when the attempt or time budget runs out before
// the intent reaches the awaited state.
var ErrPollTimeout = errors.New("checkout intent did not reach the expected state in time")

// Poll phases, used as the checkout_poll_attempts_total label
const (
	PhaseOffer  = "offer"
	PhaseSettle = "settle"
)

// RetryPolicy bounds a polling loop. Zero MaxAttempts or MaxDuration means
// no limit on that axis. A policy with neither set makes a single attempt.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
}

// Poller repeatedly fetches an intent until Done holds
type Poller struct {
	Policy   RetryPolicy
	Phase    string
	Fetch    func(ctx context.Context) (*models.CheckoutIntent, error)
	Done     func(*models.CheckoutIntent) bool
	OnResult func(*models.CheckoutIntent)
}

// Run waits one interval before every attempt. Requests never overlap: the
// next one is scheduled only after the previous response. Fetch errors are
// logged and spend an attempt.
func (p Poller) Run(ctx context.Context) (*models.CheckoutIntent, error) {
	logger := util.GetLogger()

	if p.Policy.MaxAttempts <= 0 && p.Policy.MaxDuration <= 0 {
		p.Policy.MaxAttempts = 1
	}

	var deadline time.Time
	if p.Policy.MaxDuration > 0 {
		deadline = time.Now().Add(p.Policy.MaxDuration)
	}

	timer := time.NewTimer(p.Policy.Interval)
	defer timer.Stop()

	var lastErr error
	var last *models.CheckoutIntent
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		util.CheckoutPollAttemptsTotal.WithLabelValues(p.Phase).Inc()
		intent, err := p.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			lastErr = err
			logger.Warn("Checkout poll failed",
				zap.String("phase", p.Phase),
				zap.Int("attempt", attempt),
				zap.Error(err))
		default:
			last = intent
			if p.OnResult != nil {
				p.OnResult(intent)
			}
			if p.Done(intent) {
				return intent, nil
			}
		}

		if p.Policy.MaxAttempts > 0 && attempt >= p.Policy.MaxAttempts {
			return last, timeoutError(attempt, lastErr)
		}
		if !deadline.IsZero() && time.Now().Add(p.Policy.Interval).After(deadline) {
			return last, timeoutError(attempt, lastErr)
		}
		timer.Reset(p.Policy.Interval)
	}
}

func timeoutError(attempts int, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts (last error: %v)", ErrPollTimeout, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempts)
}
