package amqrpc

import (
	"context"

	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/retry"
)

var retryLog = loggo.GetLogger("amqrpc.retry")

// RetryPolicy runs an operation up to MaxRetries+1 times with
// exponential backoff (BaseDelay * 2^attempt between attempts).
// Retryable decides whether a given failure is worth another
// attempt; when it returns false the error is returned as-is.
//
// The policy is composed underneath the circuit breaker and
// underneath any external request timeout: total latency is
// bounded by ctx, not by the retry math alone.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Retryable reports whether err is transient. nil means
	// everything is retryable.
	Retryable func(err error) bool

	// Clock defaults to the wall clock; tests inject a
	// testclock.
	Clock clock.Clock
}

// Execute attempts op, retrying per the policy. The last error
// is returned when attempts are exhausted or Retryable said
// stop; ctx cancellation also ends the attempts.
func (p *RetryPolicy) Execute(ctx context.Context, op func() error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	err := retry.Call(retry.CallArgs{
		Func: op,
		IsFatalError: func(err error) bool {
			if p.Retryable == nil {
				return false
			}
			return !p.Retryable(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			delay := p.BaseDelay * (1 << (attempt - 1))
			retryLog.Debugf("attempt %d failed: %v; next delay %v", attempt, lastError, delay)
		},
		Attempts:    p.MaxRetries + 1,
		Delay:       p.BaseDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	// callers get the last underlying error, not the
	// retry bookkeeping wrapper.
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
