package amqrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"
	gjson "github.com/goccy/go-json"
	"github.com/juju/loggo"
)

var srvLog = loggo.GetLogger("amqrpc.server")

// handlerFunc is the untyped form every registered handler is
// reduced to: raw request body in, encoded reply body out. A
// non-nil error means the request could not even be decoded
// (poison); domain failures come back as an encoded failure
// body with a nil error.
type handlerFunc func(ctx context.Context, raw []byte, hdr *HDR) (replyBody []byte, err error)

// Server consumes operation queues, dispatches each message to
// its registered typed handler by the envelope's operation
// name, and publishes the reply to the per-call reply queue.
// Registration is only allowed before Start; afterwards the
// registry is read without locking.
type Server struct {
	cfg  *Config
	pool *Pool

	mut      sync.Mutex
	handlers map[string]map[string]handlerFunc // queue -> op -> handler
	started  bool

	wg   sync.WaitGroup
	halt *idem.Halter
}

// NewServer builds a Server over its own Pool.
func NewServer(cfg *Config, dialer Dialer) *Server {
	return &Server{
		cfg:      cfg,
		pool:     NewPool(cfg, dialer),
		handlers: make(map[string]map[string]handlerFunc),
		halt:     idem.NewHalter(),
	}
}

// Pool exposes the underlying connection pool.
func (s *Server) Pool() *Pool { return s.pool }

func (s *Server) register(queueName, op string, h handlerFunc) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.started {
		return fmt.Errorf("cannot register '%v' on queue '%v': server already started", op, queueName)
	}
	m, ok := s.handlers[queueName]
	if !ok {
		m = make(map[string]handlerFunc)
		s.handlers[queueName] = m
	}
	if _, dup := m[op]; dup {
		return fmt.Errorf("operation '%v' already registered on queue '%v'", op, queueName)
	}
	m[op] = h
	return nil
}

// RegisterFunc registers a typed handler for op on queueName.
// The engine decodes the request, invokes fn, stamps the reply
// envelope, and encodes the response; fn only sees domain
// types. A handler error becomes a failure response carrying
// err.Error(), it never kills the consume loop.
func RegisterFunc[Req any, Resp any, PReq interface {
	*Req
	Request
}, PResp interface {
	*Resp
	Response
}](s *Server, queueName, op string, fn func(ctx context.Context, req *Req) (*Resp, error)) error {

	return s.register(queueName, op, func(ctx context.Context, raw []byte, hdr *HDR) ([]byte, error) {
		req := PReq(new(Req))
		if err := gjson.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("undecodable '%v' request: %w", op, err)
		}
		resp, err := fn(ctx, (*Req)(req))
		if err != nil {
			srvLog.Infof("handler '%v' failed for call %v: %v", op, hdr.CallID, err)
			fail := PResp(new(Resp))
			fail.InitFailure(hdr.CallID, err.Error())
			body, merr := gjson.Marshal(fail)
			panicOn(merr)
			return body, nil
		}
		presp := PResp(resp)
		if resp == nil {
			presp = PResp(new(Resp))
		}
		presp.InitSuccess(hdr.CallID)
		body, merr := gjson.Marshal(presp)
		panicOn(merr)
		return body, nil
	})
}

// Start launches one consume loop per registered queue. It
// returns immediately; the loops run until Close.
func (s *Server) Start() error {
	s.mut.Lock()
	if s.started {
		s.mut.Unlock()
		return fmt.Errorf("server already started")
	}
	if len(s.handlers) == 0 {
		s.mut.Unlock()
		return fmt.Errorf("no handlers registered")
	}
	s.started = true
	queues := make([]string, 0, len(s.handlers))
	for q := range s.handlers {
		queues = append(queues, q)
	}
	s.mut.Unlock()

	for _, q := range queues {
		s.wg.Add(1)
		go s.consumeLoop(q)
	}
	go func() {
		s.wg.Wait()
		s.halt.Done.Close()
	}()
	return nil
}

// consumeLoop owns one queue: declare topology, consume with
// prefetch 1, dispatch, and on channel death pause for
// NetworkRecoveryInterval and rebuild from the pool.
func (s *Server) consumeLoop(queueName string) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.halt.ReqStop.Chan
		cancel()
	}()

	for {
		select {
		case <-s.halt.ReqStop.Chan:
			return
		default:
		}
		err := s.consumeOnce(ctx, queueName)
		if err != nil {
			srvLog.Warningf("consume loop for '%v' lost its channel: %v", queueName, err)
		}
		select {
		case <-s.halt.ReqStop.Chan:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.NetworkRecoveryInterval):
		}
	}
}

// consumeOnce runs one channel's lifetime: returns when the
// delivery stream closes or setup fails.
func (s *Server) consumeOnce(ctx context.Context, queueName string) error {
	ch, err := s.pool.GetChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ensureDLX(ch, s.cfg); err != nil {
		return err
	}
	if err := ch.QueueDeclare(queueName, true, false, false, requestQueueArgs(s.cfg)); err != nil {
		return fmt.Errorf("declare queue '%v': %w", queueName, err)
	}
	if err := ch.Qos(1); err != nil {
		return fmt.Errorf("qos on '%v': %w", queueName, err)
	}
	consumer := fmt.Sprintf("%v.consumer.%v", queueName, issueSerial())
	deliveries, err := ch.Consume(queueName, consumer, false)
	if err != nil {
		return fmt.Errorf("consume '%v': %w", queueName, err)
	}
	srvLog.Infof("consuming '%v' as '%v'", queueName, consumer)

	for {
		select {
		case <-s.halt.ReqStop.Chan:
			ch.Cancel(consumer)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for '%v' closed", queueName)
			}
			s.handleDelivery(ctx, ch, queueName, d)
		}
	}
}

// handleDelivery settles exactly one message: unknown op and
// undecodable body are rejected to the dead-letter exchange;
// a reply publish failure requeues so another consumer can
// retry; everything else acks.
func (s *Server) handleDelivery(ctx context.Context, ch Channel, queueName string, d Delivery) {
	hdr := hdrFromDelivery(&d)

	s.mut.Lock()
	h := s.handlers[queueName][hdr.Op]
	s.mut.Unlock()
	if h == nil {
		srvLog.Warningf("unknown operation '%v' on queue '%v' (call %v); dead-lettering",
			hdr.Op, queueName, hdr.CallID)
		d.Nack(false)
		return
	}

	replyBody, err := h(ctx, d.Body, hdr)
	if err != nil {
		srvLog.Warningf("poison message on '%v' (call %v): %v; dead-lettering",
			queueName, hdr.CallID, err)
		d.Nack(false)
		return
	}

	if hdr.ReplyTo != "" {
		rh := replyHDR(hdr)
		if err := ch.Publish(ctx, "", hdr.ReplyTo, rh.asPublishing(replyBody, false)); err != nil {
			srvLog.Warningf("reply publish to '%v' failed (call %v): %v; requeueing",
				hdr.ReplyTo, hdr.CallID, err)
			d.Nack(true)
			return
		}
	}
	if err := d.Ack(); err != nil {
		srvLog.Warningf("ack failed on '%v' (call %v): %v", queueName, hdr.CallID, err)
	}
}

// Close stops every consume loop and closes the pool. It
// blocks until the loops have exited.
func (s *Server) Close() error {
	s.halt.ReqStop.Close()
	s.wg.Wait()
	return s.pool.Close()
}
