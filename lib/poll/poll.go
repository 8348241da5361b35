package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt ran and none of them reported
// completion.
var ErrExhausted = errors.New("poll attempts exhausted")

// ErrPending is what a check returns to ask for another attempt.
var ErrPending = errors.New("pending")

type Options struct {
	Interval    time.Duration
	MaxAttempts int
	// Timer is what the loop sleeps on between attempts, nil means a real
	// timer. tests swap it for one that fires immediately.
	Timer backoff.Timer
	// Notify is called before every sleep with the error of the attempt that
	// just ran.
	Notify func(attempt int, err error)
}

// Check runs a single attempt. returning nil ends the loop successfully,
// ErrPending (or an error wrapping it) schedules another attempt, and any
// other error ends the loop with that error.
type Check func(ctx context.Context, attempt int) error

// Until runs check at a fixed interval until it succeeds, fails or the
// attempt budget runs out. the returned attempt count includes the last one.
func Until(ctx context.Context, opts Options, check Check) (attempts int, err error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	// WithMaxRetries treats 0 as unlimited
	if opts.MaxAttempts > 1 {
		policy = backoff.WithMaxRetries(
			backoff.NewConstantBackOff(opts.Interval),
			uint64(opts.MaxAttempts-1),
		)
	}
	policy = backoff.WithContext(policy, ctx)

	operation := func() error {
		attempts++
		err := check(ctx, attempts)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPending) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, _ time.Duration) {
		if opts.Notify != nil {
			opts.Notify(attempts, err)
		}
	}

	err = backoff.RetryNotifyWithTimer(operation, policy, notify, opts.Timer)
	if err == nil {
		return attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, ctxErr
	}
	if errors.Is(err, ErrPending) {
		return attempts, ErrExhausted
	}
	return attempts, err
}

// ImmediateTimer is a backoff.Timer that fires as soon as it is started and
// records every duration it was asked to wait.
type ImmediateTimer struct {
	Waits []time.Duration
	c     chan time.Time
}

func (t *ImmediateTimer) Start(duration time.Duration) {
	t.Waits = append(t.Waits, duration)
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	t.c <- time.Now()
}

func (t *ImmediateTimer) Stop() {}

func (t *ImmediateTimer) C() <-chan time.Time {
	return t.c
}
