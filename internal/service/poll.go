package service

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"

	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// DefaultPollInterval is the pause between polls of a job that is still running.
const DefaultPollInterval = time.Second

// PollPolicy bounds the client-side polling loops.
type PollPolicy struct {
	// Interval between polls that observe a still-running job. Zero selects
	// DefaultPollInterval; a negative value polls without pausing.
	Interval time.Duration
	// MaxAttempts caps consecutive polls that observe a still-running job.
	// Zero means unbounded.
	MaxAttempts uint
	// Backoff doubles the interval after each still-running poll.
	Backoff bool
	// MaxInterval caps the interval when Backoff is set.
	MaxInterval time.Duration
}

// DefaultPollPolicy polls once a second until the job ends.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: DefaultPollInterval}
}

// ErrStop may be returned by a visit func to end an iteration early without error.
var ErrStop = errors.New("stop iteration")

// errStillRunning marks a poll that must be repeated after the interval.
var errStillRunning = errors.New("still running")

// pollStep is the outcome of one poll.
type pollStep int

const (
	stepWait pollStep = iota // still running, poll again after the interval
	stepNext                 // progress made, poll again immediately
	stepDone                 // terminal state
)

// run drives step until it reports stepDone or fails. stepWait results
// are retried with the policy's delay and attempt cap; stepNext restarts
// the attempt budget without sleeping.
func (p PollPolicy) run(ctx context.Context, step func() (pollStep, error)) error {
	delayType := retry.FixedDelay
	if p.Backoff {
		delayType = retry.BackOffDelay
	}
	interval := p.Interval
	switch {
	case interval == 0:
		interval = DefaultPollInterval
	case interval < 0:
		interval, delayType = 0, retry.FixedDelay
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.MaxAttempts),
		retry.Delay(interval),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errStillRunning) }),
	}
	if p.MaxInterval > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxInterval))
	}
	retrier := retry.New(opts...)

	for {
		var last pollStep
		err := retrier.Do(func() error {
			s, err := step()
			if err != nil {
				return err
			}
			last = s
			if s == stepWait {
				return errStillRunning
			}
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, errStillRunning) {
				return cdlerrors.ErrServerReported("poll attempts exhausted")
			}
			return err
		}
		if last == stepDone {
			return nil
		}
	}
}

// immediate returns p without the pause between polls.
func (p PollPolicy) immediate() PollPolicy {
	p.Interval = -1
	return p
}

// visit calls fn and translates ErrStop into a terminal step.
func visit[T any](fn func(T) error, v T) (bool, error) {
	if err := fn(v); err != nil {
		if errors.Is(err, ErrStop) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
