package amqrpc

import (
	"context"
	"fmt"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test020_retry_succeeds_after_transient_failures(t *testing.T) {

	cv.Convey("a transient failure should be retried until it clears", t, func() {
		p := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
		calls := 0
		err := p.Execute(context.Background(), func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient %v", calls)
			}
			return nil
		})
		cv.So(err, cv.ShouldBeNil)
		cv.So(calls, cv.ShouldEqual, 3)
	})
}

func Test021_retry_exhaustion_returns_last_error(t *testing.T) {

	cv.Convey("after MaxRetries+1 attempts the last error comes back unwrapped", t, func() {
		p := &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
		calls := 0
		last := fmt.Errorf("attempt 3 boom")
		err := p.Execute(context.Background(), func() error {
			calls++
			if calls == 3 {
				return last
			}
			return fmt.Errorf("attempt %v boom", calls)
		})
		cv.So(calls, cv.ShouldEqual, 3)
		cv.So(err, cv.ShouldEqual, last)
	})
}

func Test022_retry_stops_on_fatal_error(t *testing.T) {

	cv.Convey("Retryable=false errors should not be retried", t, func() {
		fatal := fmt.Errorf("auth refused")
		p := &RetryPolicy{
			MaxRetries: 5,
			BaseDelay:  time.Millisecond,
			Retryable:  func(err error) bool { return err != fatal },
		}
		calls := 0
		err := p.Execute(context.Background(), func() error {
			calls++
			return fatal
		})
		cv.So(calls, cv.ShouldEqual, 1)
		cv.So(err, cv.ShouldEqual, fatal)
	})
}

func Test023_retry_honors_context_cancellation(t *testing.T) {

	cv.Convey("a cancelled context should end the attempts early", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		p := &RetryPolicy{MaxRetries: 50, BaseDelay: 10 * time.Millisecond}
		calls := 0
		boom := fmt.Errorf("still down")
		err := p.Execute(ctx, func() error {
			calls++
			if calls == 2 {
				cancel()
			}
			return boom
		})
		cv.So(err, cv.ShouldEqual, boom)
		cv.So(calls, cv.ShouldBeLessThan, 10)
	})
}
