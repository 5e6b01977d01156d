package amqrpc

// amqp.go: the rabbitmq/amqp091-go implementation of the
// broker seam in backend.go. This is the only file that
// imports the amqp091 client.

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AmqpDialer dials a real RabbitMQ broker.
type AmqpDialer struct{}

// Dial connects per cfg: vhost, heartbeat, and a dial timeout
// of cfg.ConnectTimeout.
func (AmqpDialer) Dial(cfg *Config) (Conn, error) {
	acfg := amqp.Config{
		Vhost:     cfg.VHost,
		Heartbeat: cfg.Heartbeat,
		Dial: func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, cfg.ConnectTimeout)
		},
	}
	conn, err := amqp.DialConfig(cfg.URL(), acfg)
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

type amqpConn struct {
	conn *amqp.Connection
}

func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConn) NotifyClose(receiver chan error) chan error {
	inner := make(chan *amqp.Error, 1)
	c.conn.NotifyClose(inner)
	go func() {
		aerr, ok := <-inner
		if !ok || aerr == nil {
			close(receiver)
			return
		}
		receiver <- aerr
		close(receiver)
	}()
	return receiver
}

func (c *amqpConn) IsClosed() bool { return c.conn.IsClosed() }
func (c *amqpConn) Close() error   { return c.conn.Close() }

type amqpChannel struct {
	ch *amqp.Channel
}

func (a *amqpChannel) QueueDeclare(name string, durable, autoDelete, exclusive bool, args Table) error {
	_, err := a.ch.QueueDeclare(name, durable, autoDelete, exclusive, false, amqp.Table(args))
	return err
}

func (a *amqpChannel) QueueDelete(name string) error {
	_, err := a.ch.QueueDelete(name, false, false, false)
	return err
}

func (a *amqpChannel) ExchangeDeclare(name, kind string, durable bool) error {
	return a.ch.ExchangeDeclare(name, kind, durable, false, false, false, nil)
}

func (a *amqpChannel) QueueBind(queue, key, exchange string) error {
	return a.ch.QueueBind(queue, key, exchange, false, nil)
}

func (a *amqpChannel) Qos(prefetch int) error {
	return a.ch.Qos(prefetch, 0, false)
}

func (a *amqpChannel) Consume(queue, consumer string, autoAck bool) (<-chan Delivery, error) {
	inner, err := a.ch.Consume(queue, consumer, autoAck, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range inner {
			dd := Delivery{
				CorrelationID: d.CorrelationId,
				Type:          d.Type,
				ReplyTo:       d.ReplyTo,
				Timestamp:     d.Timestamp,
				Body:          d.Body,
				tag:           d.DeliveryTag,
			}
			if !autoAck {
				dd.acker = d.Acknowledger
			}
			out <- dd
		}
	}()
	return out, nil
}

func (a *amqpChannel) Cancel(consumer string) error {
	return a.ch.Cancel(consumer, false)
}

func (a *amqpChannel) Publish(ctx context.Context, exchange, key string, pub Publishing) error {
	mode := amqp.Transient
	if pub.Persistent {
		mode = amqp.Persistent
	}
	ts := pub.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return a.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   pub.ContentType,
		CorrelationId: pub.CorrelationID,
		ReplyTo:       pub.ReplyTo,
		Type:          pub.Type,
		Timestamp:     ts,
		DeliveryMode:  mode,
		Body:          pub.Body,
	})
}

func (a *amqpChannel) IsClosed() bool { return a.ch.IsClosed() }
func (a *amqpChannel) Close() error   { return a.ch.Close() }
