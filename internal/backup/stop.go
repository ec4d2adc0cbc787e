package backup

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when a stop token fires during a wait.
var ErrStopped = errors.New("job stopped")

// StopToken is a cooperative stop signal checked between steps.
// It never interrupts a network call already in flight.
type StopToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopToken returns an unfired token.
func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Stop fires the token. Safe to call more than once.
func (t *StopToken) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.ch) })
}

// Stopped reports whether Stop was called.
func (t *StopToken) Stopped() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on Stop; nil tokens never fire.
func (t *StopToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ch
}

// SleepFunc waits for d unless ctx ends or stop fires first.
type SleepFunc func(ctx context.Context, d time.Duration, stop *StopToken) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration, stop *StopToken) error {
	if stop.Stopped() {
		return ErrStopped
	}
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop.Done():
		return ErrStopped
	}
}
