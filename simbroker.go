package amqrpc

// simbroker.go: an in-process broker implementing the seam in
// backend.go, so the full client/server stack can run and be
// tested without a RabbitMQ instance. It models the parts of
// queue semantics the engines depend on: named durable queues,
// direct exchanges with bindings, declaration-argument
// matching, manual ack/nack, and dead-lettering on
// nack-without-requeue. It does not model message TTL expiry
// or broker-side flow control.

import (
	"context"
	"fmt"
	"sync"
)

const simQueueDepth = 1024

// SimBroker is a tiny in-memory message broker.
type SimBroker struct {
	mut      sync.Mutex
	queues   map[string]*simQueue
	bindings map[string]map[string][]string // exchange -> key -> queues
	conns    []*simConn
	closed   bool
}

type simQueue struct {
	name string
	args Table
	msgs chan Delivery
}

// NewSimBroker starts an empty broker.
func NewSimBroker() *SimBroker {
	return &SimBroker{
		queues:   make(map[string]*simQueue),
		bindings: make(map[string]map[string][]string),
	}
}

// Dial implements Dialer, so a *SimBroker can be handed
// directly to NewPool in place of AmqpDialer.
func (b *SimBroker) Dial(cfg *Config) (Conn, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return nil, fmt.Errorf("simbroker: broker is closed")
	}
	c := &simConn{broker: b}
	b.conns = append(b.conns, c)
	return c, nil
}

// KillConnections simulates the broker dropping every open
// connection, firing the NotifyClose handlers. For tests.
func (b *SimBroker) KillConnections() {
	b.mut.Lock()
	conns := b.conns
	b.conns = nil
	b.mut.Unlock()
	for _, c := range conns {
		c.shutdown(fmt.Errorf("simbroker: connection dropped"))
	}
}

// QueueDepth reports how many messages sit ready in queue.
func (b *SimBroker) QueueDepth(queue string) int {
	b.mut.Lock()
	defer b.mut.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q.msgs)
}

// Close drops all connections and refuses further dials.
func (b *SimBroker) Close() {
	b.mut.Lock()
	b.closed = true
	b.mut.Unlock()
	b.KillConnections()
}

func (b *SimBroker) declareQueue(name string, args Table) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	q, ok := b.queues[name]
	if !ok {
		b.queues[name] = &simQueue{
			name: name,
			args: args,
			msgs: make(chan Delivery, simQueueDepth),
		}
		return nil
	}
	// Redeclaration must carry identical arguments, like the
	// real broker's PRECONDITION_FAILED.
	if !tablesEqual(q.args, args) {
		return fmt.Errorf("simbroker: PRECONDITION_FAILED: queue '%v' redeclared with different arguments", name)
	}
	return nil
}

func tablesEqual(a, b Table) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if fmt.Sprintf("%v", b[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func (b *SimBroker) deleteQueue(name string) {
	b.mut.Lock()
	delete(b.queues, name)
	b.mut.Unlock()
}

func (b *SimBroker) declareExchange(name string) {
	b.mut.Lock()
	if _, ok := b.bindings[name]; !ok {
		b.bindings[name] = make(map[string][]string)
	}
	b.mut.Unlock()
}

func (b *SimBroker) bind(queue, key, exchange string) {
	b.mut.Lock()
	m, ok := b.bindings[exchange]
	if !ok {
		m = make(map[string][]string)
		b.bindings[exchange] = m
	}
	m[key] = append(m[key], queue)
	b.mut.Unlock()
}

// route delivers d. The default exchange ("") routes directly
// to the queue named by key; other exchanges are direct,
// consulting their bindings. Unroutable messages are dropped,
// as an unroutable non-mandatory publish would be.
func (b *SimBroker) route(exchange, key string, d Delivery) {
	b.mut.Lock()
	var targets []*simQueue
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			targets = append(targets, q)
		}
	} else {
		for _, qname := range b.bindings[exchange][key] {
			if q, ok := b.queues[qname]; ok {
				targets = append(targets, q)
			}
		}
	}
	b.mut.Unlock()
	for _, q := range targets {
		select {
		case q.msgs <- d:
		default:
			// queue full; drop, like an overflowing TTL'd queue.
		}
	}
}

// deadLetter re-routes a rejected delivery through the queue's
// declared x-dead-letter-exchange with an empty routing key.
func (b *SimBroker) deadLetter(fromQueue string, d Delivery) {
	b.mut.Lock()
	q, ok := b.queues[fromQueue]
	b.mut.Unlock()
	if !ok {
		return
	}
	dlx, ok := q.args["x-dead-letter-exchange"].(string)
	if !ok || dlx == "" {
		return
	}
	d.acker = nil
	b.route(dlx, "", d)
}

// requeue puts a delivery back at its source queue.
func (b *SimBroker) requeue(fromQueue string, d Delivery) {
	b.mut.Lock()
	q, ok := b.queues[fromQueue]
	b.mut.Unlock()
	if !ok {
		return
	}
	d.acker = nil
	select {
	case q.msgs <- d:
	default:
	}
}

type simConn struct {
	broker *SimBroker

	mut      sync.Mutex
	closed   bool
	chans    []*simChannel
	notifyCh []chan error
}

func (c *simConn) Channel() (Channel, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.closed {
		return nil, fmt.Errorf("simbroker: connection is closed")
	}
	ch := &simChannel{conn: c, consumers: make(map[string]chan struct{})}
	c.chans = append(c.chans, ch)
	return ch, nil
}

func (c *simConn) NotifyClose(receiver chan error) chan error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notifyCh = append(c.notifyCh, receiver)
	return receiver
}

func (c *simConn) IsClosed() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.closed
}

// Close is a graceful close: notify channels are closed
// without a value.
func (c *simConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *simConn) shutdown(reason error) {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return
	}
	c.closed = true
	chans := c.chans
	notify := c.notifyCh
	c.chans = nil
	c.notifyCh = nil
	c.mut.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
	for _, n := range notify {
		if reason != nil {
			select {
			case n <- reason:
			default:
			}
		}
		close(n)
	}
}

type simChannel struct {
	conn *simConn

	mut       sync.Mutex
	closed    bool
	consumers map[string]chan struct{} // consumer tag -> stop
}

func (ch *simChannel) broker() *SimBroker { return ch.conn.broker }

func (ch *simChannel) QueueDeclare(name string, durable, autoDelete, exclusive bool, args Table) error {
	if ch.IsClosed() {
		return fmt.Errorf("simbroker: channel is closed")
	}
	return ch.broker().declareQueue(name, args)
}

func (ch *simChannel) QueueDelete(name string) error {
	if ch.IsClosed() {
		return fmt.Errorf("simbroker: channel is closed")
	}
	ch.broker().deleteQueue(name)
	return nil
}

func (ch *simChannel) ExchangeDeclare(name, kind string, durable bool) error {
	if ch.IsClosed() {
		return fmt.Errorf("simbroker: channel is closed")
	}
	ch.broker().declareExchange(name)
	return nil
}

func (ch *simChannel) QueueBind(queue, key, exchange string) error {
	if ch.IsClosed() {
		return fmt.Errorf("simbroker: channel is closed")
	}
	ch.broker().bind(queue, key, exchange)
	return nil
}

func (ch *simChannel) Qos(prefetch int) error { return nil }

func (ch *simChannel) Consume(queue, consumer string, autoAck bool) (<-chan Delivery, error) {
	ch.mut.Lock()
	if ch.closed {
		ch.mut.Unlock()
		return nil, fmt.Errorf("simbroker: channel is closed")
	}
	stop := make(chan struct{})
	ch.consumers[consumer] = stop
	ch.mut.Unlock()

	b := ch.broker()
	b.mut.Lock()
	q, ok := b.queues[queue]
	b.mut.Unlock()
	if !ok {
		return nil, fmt.Errorf("simbroker: NOT_FOUND: no queue '%v'", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case d, ok := <-q.msgs:
				if !ok {
					return
				}
				if !autoAck {
					d.acker = &simAcker{broker: b, queue: queue, d: d}
				}
				select {
				case out <- d:
				case <-stop:
					// consumer gone before settling; put it back.
					b.requeue(queue, d)
					return
				}
			}
		}
	}()
	return out, nil
}

func (ch *simChannel) Cancel(consumer string) error {
	ch.mut.Lock()
	stop, ok := ch.consumers[consumer]
	if ok {
		delete(ch.consumers, consumer)
	}
	ch.mut.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

func (ch *simChannel) Publish(ctx context.Context, exchange, key string, pub Publishing) error {
	if ch.IsClosed() {
		return fmt.Errorf("simbroker: channel is closed")
	}
	d := Delivery{
		CorrelationID: pub.CorrelationID,
		Type:          pub.Type,
		ReplyTo:       pub.ReplyTo,
		Timestamp:     pub.Timestamp,
		Body:          pub.Body,
	}
	ch.broker().route(exchange, key, d)
	return nil
}

func (ch *simChannel) IsClosed() bool {
	ch.mut.Lock()
	defer ch.mut.Unlock()
	return ch.closed
}

func (ch *simChannel) Close() error {
	ch.mut.Lock()
	if ch.closed {
		ch.mut.Unlock()
		return nil
	}
	ch.closed = true
	consumers := ch.consumers
	ch.consumers = make(map[string]chan struct{})
	ch.mut.Unlock()
	for _, stop := range consumers {
		close(stop)
	}
	return nil
}

// simAcker settles one delivery. The sim does not track
// redelivery counts; a requeued message simply goes back on
// the queue.
type simAcker struct {
	broker *SimBroker
	queue  string
	d      Delivery

	once sync.Once
}

func (a *simAcker) Ack(tag uint64, multiple bool) error {
	a.once.Do(func() {})
	return nil
}

func (a *simAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.once.Do(func() {
		if requeue {
			a.broker.requeue(a.queue, a.d)
		} else {
			a.broker.deadLetter(a.queue, a.d)
		}
	})
	return nil
}
