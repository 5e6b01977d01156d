package amqrpc

import (
	"fmt"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
	"github.com/juju/clock/testclock"
)

func Test030_breaker_opens_at_threshold_and_recovers(t *testing.T) {

	cv.Convey("the circuit should open after FailureThreshold failures, fast-fail while open, probe half-open after the recovery timeout, and close on a good probe", t, func() {

		clk := testclock.NewClock(time.Now())
		b := &Breaker{
			FailureThreshold: 3,
			RecoveryTimeout:  time.Minute,
			Clock:            clk,
		}
		boom := fmt.Errorf("broker down")
		fail := func() error { return boom }
		good := func() error { return nil }

		cv.So(b.State(), cv.ShouldEqual, BreakerClosed)
		for i := 0; i < 3; i++ {
			err := b.Execute(fail)
			cv.So(err, cv.ShouldEqual, boom)
		}
		cv.So(b.State(), cv.ShouldEqual, BreakerOpen)

		// while open, ops are rejected without running.
		calls := 0
		err := b.Execute(func() error { calls++; return nil })
		cv.So(err, cv.ShouldEqual, ErrCircuitOpen)
		cv.So(calls, cv.ShouldEqual, 0)

		// after the recovery timeout a single probe is let through.
		clk.Advance(time.Minute)
		err = b.Execute(good)
		cv.So(err, cv.ShouldBeNil)
		cv.So(b.State(), cv.ShouldEqual, BreakerClosed)

		// and the failure count was reset: one new failure
		// does not re-open.
		err = b.Execute(fail)
		cv.So(err, cv.ShouldEqual, boom)
		cv.So(b.State(), cv.ShouldEqual, BreakerClosed)
	})
}

func Test031_breaker_half_open_failure_reopens(t *testing.T) {

	cv.Convey("a failed half-open probe should re-open the circuit immediately", t, func() {
		clk := testclock.NewClock(time.Now())
		b := &Breaker{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Minute,
			Clock:            clk,
		}
		boom := fmt.Errorf("still down")
		fail := func() error { return boom }

		b.Execute(fail)
		b.Execute(fail)
		cv.So(b.State(), cv.ShouldEqual, BreakerOpen)

		clk.Advance(time.Minute)
		err := b.Execute(fail)
		cv.So(err, cv.ShouldEqual, boom)
		cv.So(b.State(), cv.ShouldEqual, BreakerOpen)

		// and we are fast-failing again.
		err = b.Execute(fail)
		cv.So(err, cv.ShouldEqual, ErrCircuitOpen)
	})
}

func Test032_breaker_op_timeout_counts_as_failure(t *testing.T) {

	cv.Convey("an op exceeding OpTimeout should count against the threshold", t, func() {
		clk := testclock.NewClock(time.Now())
		b := &Breaker{
			FailureThreshold: 1,
			OpTimeout:        time.Second,
			RecoveryTimeout:  time.Minute,
			Clock:            clk,
		}
		stuck := make(chan struct{})
		defer close(stuck)

		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Execute(func() error {
				<-stuck
				return nil
			})
		}()
		err := clk.WaitAdvance(time.Second, 5*time.Second, 1)
		cv.So(err, cv.ShouldBeNil)

		err = <-errCh
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(b.State(), cv.ShouldEqual, BreakerOpen)
	})
}
