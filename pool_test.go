package amqrpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

type countingDialer struct {
	inner Dialer
	mut   sync.Mutex
	dials int
}

func (d *countingDialer) Dial(cfg *Config) (Conn, error) {
	d.mut.Lock()
	d.dials++
	d.mut.Unlock()
	return d.inner.Dial(cfg)
}

func (d *countingDialer) count() int {
	d.mut.Lock()
	defer d.mut.Unlock()
	return d.dials
}

type failingDialer struct{}

func (failingDialer) Dial(cfg *Config) (Conn, error) {
	return nil, fmt.Errorf("connection refused")
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.NetworkRecoveryInterval = 10 * time.Millisecond
	cfg.SweepInterval = time.Hour
	cfg.SweepGrace = time.Hour
	return cfg
}

func Test040_pool_reuses_a_healthy_connection(t *testing.T) {

	cv.Convey("repeated GetConnection calls should share one dial", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		dialer := &countingDialer{inner: broker}
		p := NewPool(testConfig(), dialer)
		defer p.Close()

		ctx := context.Background()
		c1, err := p.GetConnection(ctx)
		cv.So(err, cv.ShouldBeNil)
		c2, err := p.GetConnection(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(c2, cv.ShouldEqual, c1)
		cv.So(dialer.count(), cv.ShouldEqual, 1)
	})
}

func Test041_pool_redials_after_connection_loss(t *testing.T) {

	cv.Convey("a dropped connection should be pruned and replaced on the next get", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		dialer := &countingDialer{inner: broker}
		cfg := testConfig()
		cfg.MaxPoolSize = 1
		p := NewPool(cfg, dialer)
		defer p.Close()

		ctx := context.Background()
		c1, err := p.GetConnection(ctx)
		cv.So(err, cv.ShouldBeNil)

		lost := make(chan struct{})
		var once sync.Once
		unsub := p.Hub.Subscribe(TopicConnectionLost, func(topic string, data interface{}) {
			once.Do(func() { close(lost) })
		})
		defer unsub()

		broker.KillConnections()
		cv.So(c1.IsClosed(), cv.ShouldBeTrue)

		select {
		case <-lost:
		case <-time.After(5 * time.Second):
			t.Fatal("no connection-lost event")
		}

		c2, err := p.GetConnection(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(c2.IsClosed(), cv.ShouldBeFalse)
		cv.So(dialer.count(), cv.ShouldEqual, 2)
	})
}

func Test042_pool_serializes_dialing_under_contention(t *testing.T) {

	cv.Convey("many concurrent getters should not stampede the broker", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		dialer := &countingDialer{inner: broker}
		cfg := testConfig()
		cfg.MaxPoolSize = 2
		p := NewPool(cfg, dialer)
		defer p.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.GetConnection(context.Background())
				if err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		cv.So(dialer.count(), cv.ShouldBeLessThanOrEqualTo, cfg.MaxPoolSize)
	})
}

func Test043_pool_breaker_opens_on_repeated_dial_failure(t *testing.T) {

	cv.Convey("dial failures past the threshold should trip the breaker and fast-fail callers", t, func() {
		cfg := testConfig()
		cfg.RetryMaxAttempts = 0
		cfg.BreakerFailureThreshold = 1
		p := NewPool(cfg, failingDialer{})
		defer p.Close()

		ctx := context.Background()
		_, err := p.GetConnection(ctx)
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(p.Breaker().State(), cv.ShouldEqual, BreakerOpen)

		_, err = p.GetConnection(ctx)
		cv.So(err, cv.ShouldEqual, ErrCircuitOpen)
	})
}

func Test044_pool_get_channel_survives_stale_connection(t *testing.T) {

	cv.Convey("GetChannel should retry against a fresh connection when the cached one died", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		p := NewPool(testConfig(), broker)
		defer p.Close()

		ctx := context.Background()
		ch, err := p.GetChannel(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(ch.IsClosed(), cv.ShouldBeFalse)

		broker.KillConnections()
		ch2, err := p.GetChannel(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(ch2.IsClosed(), cv.ShouldBeFalse)
	})
}
