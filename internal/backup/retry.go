package backup

import (
	"context"
	"errors"
	"time"

	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/telegram"
)

// RetryPolicy bounds how often a single step is repeated.
type RetryPolicy struct {
	FloodRetries     int           // retries after a flood wait
	FloodMargin      time.Duration // added to the wait telegram asks for
	TransientRetries int           // retries after other errors
	TransientBackoff time.Duration // fixed pause before a transient retry
}

// DefaultRetryPolicy retries a flood wait once after wait+5s and never
// retries anything else.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		FloodRetries:     1,
		FloodMargin:      5 * time.Second,
		TransientBackoff: 2 * time.Second,
	}
}

// Retrier runs one step under a RetryPolicy.
type Retrier struct {
	Policy  RetryPolicy
	Sleep   SleepFunc
	OnFlood func(wait time.Duration) // called for every flood wait seen
	log     *logger.Logger
}

// NewRetrier creates a Retrier using the real clock.
func NewRetrier(policy RetryPolicy, log *logger.Logger) *Retrier {
	return &Retrier{Policy: policy, Sleep: Sleep, log: log}
}

// permanent errors are never retried
func permanent(err error) bool {
	return errors.Is(err, telegram.ErrMessageNotFound) ||
		errors.Is(err, telegram.ErrChatNotFound) ||
		errors.Is(err, telegram.ErrNotModified) ||
		errors.Is(err, telegram.ErrNotAuthorized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrStopped)
}

// Do runs fn, sleeping and repeating it according to the policy.
// It returns ErrStopped if stop fires during a retry pause.
func (r *Retrier) Do(ctx context.Context, stop *StopToken, op string, fn func() error) error {
	log := r.log
	if log == nil {
		log = logger.Nop()
	}

	var floods, transients int
	for {
		err := fn()
		if err == nil || permanent(err) {
			return err
		}

		if wait, ok := telegram.AsFloodWait(err); ok {
			if r.OnFlood != nil {
				r.OnFlood(wait)
			}
			if floods >= r.Policy.FloodRetries {
				return err
			}
			floods++

			pause := wait + r.Policy.FloodMargin
			log.Warn().Str("op", op).Dur("wait", wait).Dur("pause", pause).Msg("backup: flood wait, retrying")
			if serr := r.Sleep(ctx, pause, stop); serr != nil {
				return serr
			}
			continue
		}

		if transients >= r.Policy.TransientRetries {
			return err
		}
		transients++

		log.Warn().Err(err).Str("op", op).Int("attempt", transients).Msg("backup: transient error, retrying")
		if serr := r.Sleep(ctx, r.Policy.TransientBackoff, stop); serr != nil {
			return serr
		}
	}
}
