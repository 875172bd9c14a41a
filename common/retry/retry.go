// Package retry re-dispatches requests that failed for transient reasons.
// Only broker failures and deadline expiries are retried; service verdicts
// are final. The caller's absolute deadline bounds the whole budget.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Options tunes the wrapper. MaxAttempts counts total executions, not
// retries.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
}

type Retrier struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options, log *slog.Logger) *Retrier {
	opts.withDefaults()
	return &Retrier{opts: opts, log: log}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx expires. onRetry (optional) fires before each
// backoff sleep. Exhausted broker failures surface as ServiceUnavailable.
func (r *Retrier) Do(ctx context.Context, operation string, onRetry func(), op func() error) error {
	bo := &jitteredBackOff{
		base:   r.opts.BaseDelay,
		next:   r.opts.BaseDelay,
		max:    r.opts.MaxDelay,
		jitter: r.opts.Jitter,
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxAttempts-1)), ctx)

	attempts := 0
	var lastErr error
	err := backoff.RetryNotify(
		func() error {
			attempts++
			err := op()
			if err == nil {
				return nil
			}
			lastErr = err
			if !faults.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, delay time.Duration) {
			if onRetry != nil {
				onRetry()
			}
			r.log.Warn("retrying after transient failure",
				slog.String("operation", operation),
				slog.Int("attempt", attempts),
				slog.Duration("backoff", delay),
				slog.Any("error", err),
			)
		},
	)
	if err == nil {
		return nil
	}

	// A deadline hit during the backoff sleep reports the context error;
	// the operation's own failure is the one worth surfacing.
	if errors.Is(err, context.DeadlineExceeded) && lastErr != nil {
		err = lastErr
	}
	if faults.KindOf(err) == faults.BrokerUnavailable {
		return faults.Newf(faults.ServiceUnavailable,
			"%s unavailable after %d attempt(s): %v", operation, attempts, err)
	}
	return err
}

// jitteredBackOff doubles from base up to max; with jitter enabled each
// delay is scaled by a 0.5-1.0x factor.
type jitteredBackOff struct {
	base   time.Duration
	next   time.Duration
	max    time.Duration
	jitter bool
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	if b.jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

func (b *jitteredBackOff) Reset() {
	b.next = b.base
}
