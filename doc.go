// Package amqrpc is an RPC layer over an AMQP 0-9-1 broker.
//
// A Client publishes a request to a named operation queue and
// parks on a per-call reply queue; a Server consumes the
// operation queue, dispatches to a typed handler registered by
// operation name, and publishes the reply back. Correlation
// ids bind replies to waiters, so many calls can be in flight
// from many goroutines over one Client.
//
// Underneath, a connection Pool hands out broker connections
// lazily, bounded by MaxPoolSize. Dials are retried with
// exponential backoff and guarded by a circuit Breaker, so a
// dead broker fails callers fast instead of stacking timeouts.
// Connection loss is observed via NotifyClose and announced on
// the pool's hub; the server's consume loops reconnect on
// their own.
//
// Request queues are durable and carry a dead-letter exchange
// and a message TTL; poison messages (unknown operation,
// undecodable body) are rejected to the dead-letter queue.
// Reply queues are per-call and reaped by TTL plus a
// best-effort delete at teardown. Bodies are compact camelCase
// JSON; see Request, Response, and the Echo example pair.
//
// The broker is reached through the Dialer/Conn/Channel seam,
// with AmqpDialer speaking real AMQP and SimBroker providing
// an in-process stand-in for tests.
package amqrpc
