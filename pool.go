package amqrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/glycerine/idem"
	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
)

var poolLog = loggo.GetLogger("amqrpc.pool")

// Topics published on the pool's hub. Client and server
// engines subscribe to learn about connectivity transitions
// without polling.
const (
	TopicConnectionLost     = "amqrpc.connection.lost"
	TopicConnectionRestored = "amqrpc.connection.restored"
)

type pooledConn struct {
	conn    Conn
	mut     sync.Mutex
	healthy bool
}

func (pc *pooledConn) isHealthy() bool {
	pc.mut.Lock()
	defer pc.mut.Unlock()
	return pc.healthy && !pc.conn.IsClosed()
}

func (pc *pooledConn) markUnhealthy() {
	pc.mut.Lock()
	pc.healthy = false
	pc.mut.Unlock()
}

// Pool manages up to cfg.MaxPoolSize broker connections,
// creating them lazily and guarding creation behind the retry
// policy and the circuit breaker. Connection loss is observed
// via NotifyClose and announced on Hub; the dead connection is
// pruned and the next GetConnection re-dials.
type Pool struct {
	cfg    *Config
	dialer Dialer

	// Hub carries TopicConnectionLost / TopicConnectionRestored.
	Hub *pubsub.SimpleHub

	breaker *Breaker
	retry   *RetryPolicy
	clk     clock.Clock

	mut   sync.Mutex
	conns []*pooledConn

	// createGate serializes dial attempts so a thundering
	// herd of callers produces one new connection, not many.
	createGate chan struct{}

	halt *idem.Halter
}

// NewPool builds a Pool over dialer. Dial attempts happen
// lazily in GetConnection, never here.
func NewPool(cfg *Config, dialer Dialer) *Pool {
	p := &Pool{
		cfg:     cfg,
		dialer:  dialer,
		Hub:     pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{}),
		breaker: NewBreaker(cfg),
		retry: &RetryPolicy{
			MaxRetries: cfg.RetryMaxAttempts,
			BaseDelay:  cfg.RetryBaseDelay,
		},
		clk:        clock.WallClock,
		createGate: make(chan struct{}, 1),
		halt:       idem.NewHalter(),
	}
	p.createGate <- struct{}{}
	return p
}

// Breaker exposes the breaker guarding connection creation,
// mostly so tests can inspect its state.
func (p *Pool) Breaker() *Breaker { return p.breaker }

// GetConnection returns a healthy pooled connection, dialing a
// new one if the pool has room. At MaxPoolSize with no healthy
// connection it waits up to cfg.ConnectTimeout for one to
// appear, then fails with ErrNoConnection.
func (p *Pool) GetConnection(ctx context.Context) (Conn, error) {
	deadline := p.clk.Now().Add(p.cfg.ConnectTimeout)
	for {
		if pc := p.firstHealthy(); pc != nil {
			return pc.conn, nil
		}
		select {
		case <-p.halt.ReqStop.Chan:
			return nil, ErrShutdown
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// One dialer at a time; everyone else waits for its
		// result and re-checks the pool.
		select {
		case tok := <-p.createGate:
			conn, err := p.createConn(ctx, tok)
			if err == nil {
				return conn, nil
			}
			if err != errPoolFull {
				return nil, err
			}
			// at capacity: fall through to the bounded wait.
		case <-p.clk.After(p.cfg.ConnectTimeout):
			return nil, ErrNoConnection
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.halt.ReqStop.Chan:
			return nil, ErrShutdown
		}

		// Pool at capacity and nothing healthy: wait briefly
		// for a NotifyClose prune + redial by another caller,
		// bounded by the overall deadline.
		if !p.clk.Now().Before(deadline) {
			return nil, ErrNoConnection
		}
		select {
		case <-p.clk.After(p.cfg.RetryBaseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.halt.ReqStop.Chan:
			return nil, ErrShutdown
		}
	}
}

var errPoolFull = fmt.Errorf("connection pool at capacity")

func (p *Pool) firstHealthy() *pooledConn {
	p.mut.Lock()
	defer p.mut.Unlock()
	keep := p.conns[:0]
	var found *pooledConn
	for _, pc := range p.conns {
		if pc.isHealthy() {
			keep = append(keep, pc)
			if found == nil {
				found = pc
			}
		}
	}
	p.conns = keep
	return found
}

// createConn is called holding the createGate token tok, which
// it always returns before exiting.
func (p *Pool) createConn(ctx context.Context, tok struct{}) (Conn, error) {
	defer func() { p.createGate <- tok }()

	// Another caller may have dialed while we waited on the gate.
	if pc := p.firstHealthy(); pc != nil {
		return pc.conn, nil
	}
	p.mut.Lock()
	n := len(p.conns)
	p.mut.Unlock()
	if n >= p.cfg.MaxPoolSize {
		return nil, errPoolFull
	}

	var conn Conn
	err := p.breaker.Execute(func() error {
		return p.retry.Execute(ctx, func() error {
			c, err := p.dialer.Dial(p.cfg)
			if err != nil {
				poolLog.Warningf("dial failed: %v", err)
				return err
			}
			conn = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	pc := &pooledConn{conn: conn, healthy: true}
	p.mut.Lock()
	p.conns = append(p.conns, pc)
	sz := len(p.conns)
	p.mut.Unlock()
	poolLog.Infof("new broker connection established (pool size %v)", sz)

	go p.watch(pc)
	p.Hub.Publish(TopicConnectionRestored, nil)
	return conn, nil
}

// watch parks on NotifyClose for one connection; on closure it
// prunes the connection and announces the loss.
func (p *Pool) watch(pc *pooledConn) {
	notify := pc.conn.NotifyClose(make(chan error, 1))
	select {
	case err := <-notify:
		pc.markUnhealthy()
		p.firstHealthy() // prune now rather than on next get.
		if err != nil {
			poolLog.Warningf("broker connection lost: %v", err)
			p.Hub.Publish(TopicConnectionLost, err)
		}
	case <-p.halt.ReqStop.Chan:
	}
}

// GetChannel opens a channel on a healthy connection. A
// connection that died between selection and Channel() gets
// one retry against a fresh connection.
func (p *Pool) GetChannel(ctx context.Context) (Channel, error) {
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := p.GetConnection(ctx)
		if err != nil {
			return nil, err
		}
		if conn.IsClosed() {
			continue
		}
		ch, err := conn.Channel()
		if err != nil {
			poolLog.Warningf("channel open failed: %v", err)
			continue
		}
		return ch, nil
	}
	return nil, fmt.Errorf("could not open channel: %w", ErrNoConnection)
}

// Close shuts the pool: each pooled connection is closed
// exactly once; secondary errors are logged, the first is
// returned.
func (p *Pool) Close() (err error) {
	p.halt.ReqStop.Close()
	p.mut.Lock()
	conns := p.conns
	p.conns = nil
	p.mut.Unlock()
	for _, pc := range conns {
		pc.markUnhealthy()
		if e := pc.conn.Close(); e != nil {
			poolLog.Warningf("error closing pooled connection: %v", e)
			if err == nil {
				err = e
			}
		}
	}
	p.halt.Done.Close()
	return
}
