package amqrpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
)

var breakerLog = loggo.GetLogger("amqrpc.breaker")

// ErrCircuitOpen is returned by Breaker.Execute when the
// circuit is open and the recovery timeout has not elapsed.
// It distinguishes "the dependency is known-bad right now"
// from "this specific call failed".
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// BreakerState is the circuit state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "Closed"
	case BreakerOpen:
		return "Open"
	case BreakerHalfOpen:
		return "HalfOpen"
	}
	return fmt.Sprintf("BreakerState(%d)", int(s))
}

// Breaker guards an operation behind a failure-count
// threshold and a recovery timeout. One Breaker is shared per
// guarded resource (the pool shares one for connection
// creation), not per request.
type Breaker struct {
	mut sync.Mutex

	// FailureThreshold trips the circuit once reached.
	FailureThreshold int

	// OpTimeout bounds the wrapped operation; exceeding it
	// counts as a failure.
	OpTimeout time.Duration

	// RecoveryTimeout is how long the circuit stays open
	// before a half-open probe is allowed.
	RecoveryTimeout time.Duration

	// Clock defaults to the wall clock; tests inject a testclock.
	Clock clock.Clock

	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewBreaker builds a Breaker from cfg.
func NewBreaker(cfg *Config) *Breaker {
	return &Breaker{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpTimeout:        cfg.BreakerOpTimeout,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}
}

func (b *Breaker) clock() clock.Clock {
	if b.Clock == nil {
		return clock.WallClock
	}
	return b.Clock
}

// State reports the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.state
}

// Execute runs op unless the circuit is open. Open past the
// recovery timeout admits a single half-open probe; the probe's
// success closes the circuit and resets the failure count,
// its failure re-opens it.
func (b *Breaker) Execute(op func() error) error {
	b.mut.Lock()
	switch b.state {
	case BreakerOpen:
		if b.clock().Now().Sub(b.lastFailure) < b.RecoveryTimeout {
			b.mut.Unlock()
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		breakerLog.Infof("recovery timeout elapsed; half-open probe")
	}
	b.mut.Unlock()

	err := b.run(op)

	b.mut.Lock()
	defer b.mut.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = b.clock().Now()
		if b.state == BreakerHalfOpen || b.failures >= b.FailureThreshold {
			if b.state != BreakerOpen {
				breakerLog.Warningf("circuit opened after %v failures: %v", b.failures, err)
			}
			b.state = BreakerOpen
		}
		return err
	}
	if b.state != BreakerClosed {
		breakerLog.Infof("circuit closed again")
	}
	b.state = BreakerClosed
	b.failures = 0
	return nil
}

// run applies OpTimeout to op. The op goroutine is not
// cancelled on timeout (there is no way to preempt it); its
// eventual result is discarded.
func (b *Breaker) run(op func() error) error {
	if b.OpTimeout <= 0 {
		return op()
	}
	done := make(chan error, 1)
	go func() {
		done <- op()
	}()
	select {
	case err := <-done:
		return err
	case <-b.clock().After(b.OpTimeout):
		return fmt.Errorf("operation exceeded breaker timeout of %v", b.OpTimeout)
	}
}
