// Package loop drives a simulation at a fixed tick rate.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRate is the tick rate used when none is configured.
const DefaultRate = 10

var ErrRunning = errors.New("loop already running")

// Stepper performs one tick. It reports true once there is nothing left to
// simulate.
type Stepper interface {
	Step() (done bool)
}

// StepFunc adapts a function to Stepper.
type StepFunc func() bool

func (f StepFunc) Step() bool { return f() }

// Period converts a rate in ticks per second to a tick interval. Rates <= 0
// mean unthrottled.
func Period(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

// Run calls s.Step once per period until it reports done (nil is returned)
// or ctx is cancelled (ctx.Err() is returned). A step is never started
// before the previous one returns. A zero period steps back to back.
func Run(ctx context.Context, period time.Duration, s Stepper) error {
	if period <= 0 {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.Step() {
				return nil
			}
		}
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.Step() {
				return nil
			}
		}
	}
}

// Driver owns one background Run and its cancellation handle. A finished or
// stopped driver can be started again.
type Driver struct {
	period time.Duration
	step   Stepper

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewDriver(period time.Duration, s Stepper) *Driver {
	done := make(chan struct{})
	close(done)
	return &Driver{period: period, step: s, done: done}
}

// Start launches the loop in a goroutine.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.err = nil

	go func() {
		err := Run(ctx, d.period, d.step)
		cancel()

		d.mu.Lock()
		d.err = err
		d.cancel = nil
		d.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight step to finish. The
// caller must not hold any lock the Stepper takes.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Done is closed when the current run ends. It is already closed before
// the first Start.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Err returns how the last run ended: nil when the stepper finished,
// context.Canceled when stopped.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
