package amqrpc

import (
	"context"
	"time"
)

// The engines talk to the broker only through the small
// interfaces below. The production implementation wraps
// rabbitmq/amqp091-go (amqp.go); tests and demos use the
// in-process SimBroker (simbroker.go). Nothing about broker
// client internals leaks past this seam.

// Table carries queue and exchange declaration arguments
// (x-dead-letter-exchange, x-message-ttl, ...). Publisher and
// consumer must declare identical arguments or the broker
// rejects the redeclaration.
type Table map[string]interface{}

// Publishing is an outbound message: the envelope properties
// plus the serialized body.
type Publishing struct {
	CorrelationID string
	Type          string
	ReplyTo       string
	ContentType   string
	Timestamp     time.Time
	Persistent    bool
	Body          []byte
}

// Delivery is an inbound message. Ack/Nack settle it with the
// broker when the consumer was started without autoAck.
type Delivery struct {
	CorrelationID string
	Type          string
	ReplyTo       string
	Timestamp     time.Time
	Body          []byte

	acker acknowledger
	tag   uint64
}

type acknowledger interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
}

// Ack settles the delivery positively.
func (d *Delivery) Ack() error {
	if d.acker == nil {
		return nil // autoAck consumer
	}
	return d.acker.Ack(d.tag, false)
}

// Nack settles the delivery negatively. requeue=false routes
// to the dead-letter exchange if the queue declared one.
func (d *Delivery) Nack(requeue bool) error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(d.tag, false, requeue)
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(cfg *Config) (Conn, error)
}

// Conn is one broker connection.
type Conn interface {

	// Channel opens a new channel/session on the connection.
	Channel() (Channel, error)

	// NotifyClose registers ch to receive the shutdown error
	// when the connection dies. The channel is closed (maybe
	// without a value) on graceful shutdown. Handlers run on
	// whatever goroutine the transport delivers the
	// notification on and must not block.
	NotifyClose(ch chan error) chan error

	IsClosed() bool
	Close() error
}

// Channel is one multiplexed session on a connection. Not
// safe for concurrent publishes from multiple goroutines; the
// engines hand each channel to one owner at a time.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive bool, args Table) error
	QueueDelete(name string) error
	ExchangeDeclare(name, kind string, durable bool) error
	QueueBind(queue, key, exchange string) error

	// Qos sets fair-dispatch prefetch: at most prefetch
	// unacknowledged messages per consumer.
	Qos(prefetch int) error

	// Consume starts delivering messages from queue. The
	// returned channel closes when the consumer is cancelled
	// or the channel/connection dies.
	Consume(queue, consumer string, autoAck bool) (<-chan Delivery, error)

	// Cancel stops the named consumer.
	Cancel(consumer string) error

	// Publish sends pub to exchange with routing key. The
	// default exchange ("") routes directly to the queue
	// named by key.
	Publish(ctx context.Context, exchange, key string, pub Publishing) error

	IsClosed() bool
	Close() error
}
