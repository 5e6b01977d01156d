package amqrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"
	gjson "github.com/goccy/go-json"
	"github.com/juju/clock"
	"github.com/juju/loggo"
)

var cliLog = loggo.GetLogger("amqrpc.client")

// Client is the request/reply engine. One Client is shared by
// all goroutines of a process; each in-flight call gets its
// own correlation id, reply queue, and waiter. Channels are
// pooled and bounded by cfg.MaxChannels.
type Client struct {
	cfg  *Config
	pool *Pool
	clk  clock.Clock

	// waiters maps correlation id -> parked call. Whoever
	// wins GetValNDel (reply consumer, timeout path, sweeper,
	// shutdown) owns fulfillment.
	waiters *Mutexmap[string, *Message]

	// chanSem bounds concurrent in-flight channels.
	chanSem chan struct{}

	mut  sync.Mutex
	idle []Channel

	unsub []func()
	halt  *idem.Halter
}

// NewClient builds a Client over its own Pool. The first dial
// happens on the first call, not here.
func NewClient(cfg *Config, dialer Dialer) *Client {
	c := &Client{
		cfg:     cfg,
		pool:    NewPool(cfg, dialer),
		clk:     clock.WallClock,
		waiters: NewMutexmap[string, *Message](),
		chanSem: make(chan struct{}, cfg.MaxChannels),
		halt:    idem.NewHalter(),
	}
	c.unsub = append(c.unsub,
		c.pool.Hub.Subscribe(TopicConnectionLost, func(topic string, data interface{}) {
			c.dropIdle()
		}))
	if cfg.AutoRecovery {
		c.unsub = append(c.unsub,
			c.pool.Hub.Subscribe(TopicConnectionRestored, func(topic string, data interface{}) {
				go c.redeclareTopology()
			}))
	}
	go c.sweeper()
	return c
}

// Pool exposes the underlying connection pool.
func (c *Client) Pool() *Pool { return c.pool }

// requestQueueArgs are the declaration arguments every request
// queue carries. Client and server must agree exactly or the
// broker refuses the redeclaration.
func requestQueueArgs(cfg *Config) Table {
	return Table{
		"x-dead-letter-exchange": cfg.DeadLetterExchange,
		"x-message-ttl":          cfg.MessageTTL.Milliseconds(),
	}
}

// replyQueueArgs: reply queues are not auto-delete; the
// message TTL plus QueueDelete-on-teardown keeps the broker
// clean even when the client dies mid-call.
func replyQueueArgs(cfg *Config) Table {
	return Table{
		"x-message-ttl": cfg.MessageTTL.Milliseconds(),
	}
}

// ensureDLX declares the shared dead-letter topology: a direct
// exchange and a catch-all queue bound with the empty key.
func ensureDLX(ch Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "direct", true); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, "", cfg.DeadLetterExchange); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	return nil
}

// SendRpcRequest serializes nothing itself: it takes an
// already-encoded body, performs one request/reply round trip
// against queueName, and returns the fulfilled Message. The
// reply body is in Message.JobSerz; timeouts, sweeps, and
// shutdown land in Message.LocalErr.
func (c *Client) SendRpcRequest(ctx context.Context, queueName, op string, body []byte) (*Message, error) {
	msg := NewMessage()
	msg.HDR = *NewHDR(op)
	msg.JobSerz = body
	if err := c.sendMessage(ctx, queueName, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// sendMessage performs the round trip for a pre-built message:
// declare reply queue, register waiter, start the reply
// consumer, declare the destination, publish persistent, park
// until fulfilled or timed out, then tear down.
func (c *Client) sendMessage(ctx context.Context, queueName string, msg *Message) (err error) {
	select {
	case <-c.halt.ReqStop.Chan:
		return ErrShutdown
	default:
	}
	if err = c.acquireSlot(ctx); err != nil {
		return err
	}
	defer c.releaseSlot()

	ch, err := c.getChannel(ctx)
	if err != nil {
		return err
	}
	broken := false
	defer func() { c.putChannel(ch, broken) }()

	callID := msg.HDR.CallID
	replyQ := msg.HDR.ReplyTo

	if err = ch.QueueDeclare(replyQ, false, false, false, replyQueueArgs(c.cfg)); err != nil {
		broken = true
		return fmt.Errorf("declare reply queue '%v': %w", replyQ, err)
	}

	// Waiter must be registered before the consumer starts,
	// or an instant reply races an absent map entry.
	msg.registeredAt = c.clk.Now()
	c.waiters.Set(callID, msg)

	deliveries, err := ch.Consume(replyQ, callID, true)
	if err != nil {
		broken = true
		c.waiters.GetValNDel(callID)
		return fmt.Errorf("consume reply queue '%v': %w", replyQ, err)
	}
	go c.consumeReply(callID, deliveries)

	if err = ch.QueueDeclare(queueName, true, false, false, requestQueueArgs(c.cfg)); err != nil {
		broken = true
		c.failWaiter(callID, err)
		return fmt.Errorf("declare queue '%v': %w", queueName, err)
	}
	if err = ch.Publish(ctx, "", queueName, msg.HDR.asPublishing(msg.JobSerz, true)); err != nil {
		broken = true
		c.failWaiter(callID, err)
		return fmt.Errorf("publish to '%v': %w", queueName, err)
	}

	select {
	case <-msg.DoneCh.WhenClosed():
		// winner already filled LocalErr or JobSerz.
	case <-c.clk.After(c.cfg.RequestTimeout):
		c.failWaiter(callID, ErrRequestTimeout)
		<-msg.DoneCh.WhenClosed()
	case <-ctx.Done():
		c.failWaiter(callID, ctx.Err())
		<-msg.DoneCh.WhenClosed()
	case <-c.halt.ReqStop.Chan:
		c.failWaiter(callID, ErrShutdown)
		<-msg.DoneCh.WhenClosed()
	}

	if e := ch.Cancel(callID); e != nil {
		cliLog.Debugf("cancel consumer %v: %v", callID, e)
	}
	if e := ch.QueueDelete(replyQ); e != nil {
		// best effort; TTL reaps what we could not.
		cliLog.Debugf("delete reply queue %v: %v", replyQ, e)
	}
	return nil
}

// failWaiter fulfills callID's waiter with cause, if we win
// the race for it. Losing means someone else fulfilled it.
func (c *Client) failWaiter(callID string, cause error) {
	w, _, ok := c.waiters.GetValNDel(callID)
	if !ok {
		return
	}
	w.LocalErr = cause
	w.DoneCh.Close()
}

// consumeReply parks on one call's reply stream and fulfills
// the waiter on the first correlated delivery.
func (c *Client) consumeReply(callID string, deliveries <-chan Delivery) {
	for d := range deliveries {
		if d.CorrelationID != callID {
			cliLog.Warningf("ignoring reply with foreign correlation id %q on reply queue for %q",
				d.CorrelationID, callID)
			continue
		}
		w, _, ok := c.waiters.GetValNDel(callID)
		if !ok {
			return // timeout or sweeper won.
		}
		if len(d.Body) == 0 {
			w.LocalErr = ErrEmptyResponse
		} else {
			w.HDR = *hdrFromDelivery(&d)
			w.JobSerz = append([]byte(nil), d.Body...)
		}
		w.DoneCh.Close()
		return
	}
}

// sweeper force-fails waiters that outlived the grace window;
// a belt over the timeout path's suspenders, so a stuck caller
// goroutine cannot leak map entries forever.
func (c *Client) sweeper() {
	defer c.halt.Done.Close()
	for {
		select {
		case <-c.halt.ReqStop.Chan:
			return
		case <-c.clk.After(c.cfg.SweepInterval):
		}
		cutoff := c.clk.Now().Add(-c.cfg.SweepGrace)
		for _, callID := range c.waiters.GetKeySlice() {
			w, ok := c.waiters.Get(callID)
			if !ok || w.registeredAt.After(cutoff) {
				continue
			}
			cliLog.Warningf("sweeping orphaned waiter %v (registered %v)",
				callID, w.registeredAt.Format(rfc3339NanoNumericTZ0pad))
			c.failWaiter(callID, ErrCleanupTimeout)
		}
	}
}

// channel pooling

func (c *Client) acquireSlot(ctx context.Context) error {
	select {
	case c.chanSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.halt.ReqStop.Chan:
		return ErrShutdown
	}
}

func (c *Client) releaseSlot() {
	<-c.chanSem
}

func (c *Client) getChannel(ctx context.Context) (Channel, error) {
	for {
		c.mut.Lock()
		n := len(c.idle)
		if n == 0 {
			c.mut.Unlock()
			break
		}
		ch := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mut.Unlock()
		if !ch.IsClosed() {
			return ch, nil
		}
	}
	return c.pool.GetChannel(ctx)
}

func (c *Client) putChannel(ch Channel, broken bool) {
	if broken || ch.IsClosed() {
		ch.Close()
		return
	}
	c.mut.Lock()
	c.idle = append(c.idle, ch)
	c.mut.Unlock()
}

func (c *Client) dropIdle() {
	c.mut.Lock()
	idle := c.idle
	c.idle = nil
	c.mut.Unlock()
	for _, ch := range idle {
		ch.Close()
	}
}

// redeclareTopology re-establishes the dead-letter topology
// after a restored connection.
func (c *Client) redeclareTopology() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	ch, err := c.getChannel(ctx)
	if err != nil {
		cliLog.Warningf("topology recovery: no channel: %v", err)
		return
	}
	err = ensureDLX(ch, c.cfg)
	c.putChannel(ch, err != nil)
	if err != nil {
		cliLog.Warningf("topology recovery failed: %v", err)
	}
}

// Close fails every pending waiter with ErrShutdown, releases
// pooled channels, and closes the pool.
func (c *Client) Close() error {
	c.halt.ReqStop.Close()
	for _, un := range c.unsub {
		un()
	}
	for _, callID := range c.waiters.GetKeySlice() {
		c.failWaiter(callID, ErrShutdown)
	}
	c.dropIdle()
	return c.pool.Close()
}

// SendRequest performs one typed round trip: stamp the
// envelope into req, encode it, round trip against queueName,
// decode the reply into a fresh Resp. Transport-level
// timeouts come back as a synthesized failure Resp with
// IsSuccess false, so callers handle exactly one shape.
func SendRequest[Resp any, PResp interface {
	*Resp
	Response
}](ctx context.Context, c *Client, queueName, op string, req Request) (PResp, error) {

	hdr := NewHDR(op)
	req.StampEnvelope(hdr.CallID, hdr.Created)
	body, err := gjson.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	msg := NewMessage()
	msg.HDR = *hdr
	msg.JobSerz = body

	t0 := time.Now()
	if err := c.sendMessage(ctx, queueName, msg); err != nil {
		return nil, err
	}
	resp := PResp(new(Resp))
	switch {
	case msg.LocalErr == ErrRequestTimeout:
		cliLog.Debugf("call %v op %v timed out after %v", hdr.CallID, op, time.Since(t0))
		resp.InitFailure(hdr.CallID, timeoutErrMsg)
		return resp, nil
	case msg.LocalErr == ErrEmptyResponse:
		resp.InitFailure(hdr.CallID, ErrEmptyResponse.Error())
		return resp, nil
	case msg.LocalErr != nil:
		return nil, msg.LocalErr
	}
	if err := gjson.Unmarshal(msg.JobSerz, resp); err != nil {
		// a malformed reply must not poison the caller; hand
		// back a failure response carrying an excerpt.
		cliLog.Warningf("call %v op %v: undecodable reply: %v", hdr.CallID, op, err)
		resp = PResp(new(Resp))
		resp.InitFailure(hdr.CallID, fmt.Sprintf("undecodable reply: %v; raw: %v",
			err, truncatedExcerpt(msg.JobSerz)))
		return resp, nil
	}
	return resp, nil
}
