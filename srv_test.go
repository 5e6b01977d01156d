package amqrpc

import (
	"context"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

// waitForDepth polls the broker until queue holds at least n
// messages, or fails the test.
func waitForDepth(t *testing.T, broker *SimBroker, queue string, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if broker.QueueDepth(queue) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue %v never reached depth %v (at %v)", queue, n, broker.QueueDepth(queue))
}

func Test060_unknown_operation_is_dead_lettered(t *testing.T) {

	cv.Convey("a message naming no registered operation should land on the dead-letter queue", t, func() {
		broker, _, cli := startEchoRig(t, testConfigFastTimeout())

		_, err := cli.SendRpcRequest(context.Background(), EchoQueue, "NoSuchOp", []byte(`{}`))
		cv.So(err, cv.ShouldBeNil)

		waitForDepth(t, broker, testConfigFastTimeout().DeadLetterQueue, 1)
	})
}

func Test061_poison_body_is_dead_lettered(t *testing.T) {

	cv.Convey("an undecodable request body should be rejected to the dead-letter queue, and the loop should keep serving", t, func() {
		cfg := testConfigFastTimeout()
		broker, _, cli := startEchoRig(t, cfg)

		_, err := cli.SendRpcRequest(context.Background(), EchoQueue, OpEcho, []byte(`{"text": 12`))
		cv.So(err, cv.ShouldBeNil)
		waitForDepth(t, broker, cfg.DeadLetterQueue, 1)

		// the consume loop survived the poison message.
		resp, err := Echo(context.Background(), cli, &EchoRequest{Text: "still alive"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(resp.OK(), cv.ShouldBeTrue)
		cv.So(resp.Echo, cv.ShouldEqual, "still alive")
	})
}

func Test062_server_reconnects_after_connection_loss(t *testing.T) {

	cv.Convey("after the broker drops every connection, the consume loop should rebuild and keep answering", t, func() {
		cfg := testConfig()
		broker, _, cli := startEchoRig(t, cfg)

		resp, err := Echo(context.Background(), cli, &EchoRequest{Text: "before"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(resp.Echo, cv.ShouldEqual, "before")

		broker.KillConnections()

		// both sides redial lazily; the server waits
		// NetworkRecoveryInterval between rebuild attempts.
		deadline := time.Now().Add(10 * time.Second)
		var got *EchoResponse
		for time.Now().Before(deadline) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			r, err := Echo(ctx, cli, &EchoRequest{Text: "after"})
			cancel()
			if err == nil && r.OK() {
				got = r
				break
			}
		}
		cv.So(got, cv.ShouldNotBeNil)
		cv.So(got.Echo, cv.ShouldEqual, "after")
	})
}

func Test063_registration_is_frozen_at_start(t *testing.T) {

	cv.Convey("duplicate and post-Start registrations should be refused", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		srv := NewServer(testConfig(), broker)
		defer srv.Close()

		err := RegisterEcho(srv)
		cv.So(err, cv.ShouldBeNil)
		err = RegisterEcho(srv)
		cv.So(err, cv.ShouldNotBeNil)

		err = srv.Start()
		cv.So(err, cv.ShouldBeNil)
		err = RegisterFunc[EchoRequest, EchoResponse](srv, EchoQueue, "Echo2", EchoHandler)
		cv.So(err, cv.ShouldNotBeNil)
		err = srv.Start()
		cv.So(err, cv.ShouldNotBeNil)
	})
}

func Test064_start_requires_handlers(t *testing.T) {

	cv.Convey("Start with an empty registry should refuse", t, func() {
		broker := NewSimBroker()
		defer broker.Close()
		srv := NewServer(testConfig(), broker)
		defer srv.Close()
		cv.So(srv.Start(), cv.ShouldNotBeNil)
	})
}

func testConfigFastTimeout() *Config {
	cfg := testConfig()
	cfg.RequestTimeout = 200 * time.Millisecond
	return cfg
}
