package session

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/toolmesh/internal/toolerr"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// DefaultMaxPoolSize is the per-service connection cap applied when a Pool
// is built without an explicit one.
const DefaultMaxPoolSize = 4

// DefaultMaxIdleTime is how long an idle connection may sit before the
// background sweeper closes it (spec.md §4.E: "default 600s").
const DefaultMaxIdleTime = 600 * time.Second

// acquireWaitDeadline bounds how long Acquire waits for a connection to
// free up once a service's pool is at capacity (spec.md §4.E: "wait... up
// to a 30s deadline"). It is a var, not a const, so tests can shrink it
// rather than waiting out the real deadline.
var acquireWaitDeadline = 30 * time.Second

// PooledConnection is a session transport plus its last_used_at and
// use_count (spec.md §3's "Pooled Connection"); it is in use whenever it is
// not in its servicePool's idle set.
type PooledConnection struct {
	transport  Transport
	lastUsedAt time.Time
	useCount   int
}

// Transport returns the connection's underlying transport.
func (c *PooledConnection) Transport() Transport { return c.transport }

// LastUsedAt reports when the connection was last released back to the pool.
func (c *PooledConnection) LastUsedAt() time.Time { return c.lastUsedAt }

// UseCount reports how many times the connection has completed a call.
func (c *PooledConnection) UseCount() int { return c.useCount }

// servicePool is the bounded set of connections maintained for one
// service_id. It generalizes the teacher's tools/browser.Pool (a single
// fixed-size instance channel guarded by a counter and mutex) to carry
// per-connection in_use/last_used_at/use_count bookkeeping and a
// time-based idle sweep, which a plain channel of instances can't express
// (spec.md §4.E).
type servicePool struct {
	mu     sync.Mutex
	idle   []*PooledConnection
	size   int
	notify chan struct{}
}

func newServicePool() *servicePool {
	return &servicePool{notify: make(chan struct{})}
}

// broadcast wakes every goroutine currently waiting in acquire, mirroring
// sync.Cond.Broadcast with a channel so waiters can still select on ctx.Done().
func (sp *servicePool) broadcast() {
	sp.mu.Lock()
	close(sp.notify)
	sp.notify = make(chan struct{})
	sp.mu.Unlock()
}

// acquire returns an idle connection if one exists, else opens a new one if
// below maxSize, else waits for either to become true, up to
// acquireWaitDeadline (spec.md §4.E: "prefer an idle connection; else if
// below capacity, open a new one; else wait... 30s deadline").
func (sp *servicePool) acquire(ctx context.Context, maxSize int, connect func(context.Context) (Transport, error)) (*PooledConnection, error) {
	deadline := time.Now().Add(acquireWaitDeadline)

	for {
		sp.mu.Lock()
		if n := len(sp.idle); n > 0 {
			conn := sp.idle[n-1]
			sp.idle = sp.idle[:n-1]
			sp.mu.Unlock()
			return conn, nil
		}
		if sp.size < maxSize {
			sp.size++
			sp.mu.Unlock()

			transport, err := connect(ctx)
			if err != nil {
				sp.mu.Lock()
				sp.size--
				sp.mu.Unlock()
				sp.broadcast()
				return nil, toolerr.Wrap(toolerr.KindTransportError, "open pooled connection", err)
			}
			return &PooledConnection{transport: transport}, nil
		}
		notify := sp.notify
		sp.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, toolerr.New(toolerr.KindServiceUnavailable, "session pool exhausted")
		}

		timer := time.NewTimer(remaining)
		select {
		case <-notify:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, toolerr.Wrap(toolerr.KindServiceUnavailable, "session pool wait canceled", ctx.Err())
		case <-timer.C:
			return nil, toolerr.New(toolerr.KindServiceUnavailable, "session pool wait deadline exceeded")
		}
	}
}

// release returns conn to the idle set, recording last_used_at and
// incrementing use_count. When closeIt is true (the connection just
// produced a transport error) it instead closes the connection and
// decrements size, so the next acquire opens a fresh one rather than
// reusing a broken one (spec.md §5).
func (sp *servicePool) release(conn *PooledConnection, closeIt bool) {
	if closeIt {
		conn.transport.Close()
		sp.mu.Lock()
		sp.size--
		sp.mu.Unlock()
		sp.broadcast()
		return
	}

	conn.lastUsedAt = time.Now()
	conn.useCount++
	sp.mu.Lock()
	sp.idle = append(sp.idle, conn)
	sp.mu.Unlock()
	sp.broadcast()
}

// sweepIdle closes idle connections that have sat unused longer than
// maxIdle, the background half of §4.E's pool maintenance.
func (sp *servicePool) sweepIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	sp.mu.Lock()
	kept := sp.idle[:0]
	var stale []*PooledConnection
	for _, conn := range sp.idle {
		if conn.lastUsedAt.Before(cutoff) {
			stale = append(stale, conn)
			continue
		}
		kept = append(kept, conn)
	}
	sp.idle = kept
	sp.size -= len(stale)
	sp.mu.Unlock()

	for _, conn := range stale {
		conn.transport.Close()
	}
}

func (sp *servicePool) closeAll() {
	sp.mu.Lock()
	idle := sp.idle
	sp.idle = nil
	sp.size = 0
	sp.mu.Unlock()

	for _, conn := range idle {
		conn.transport.Close()
	}
}

// Pool is the session layer's connection pool: one bounded servicePool per
// service_id (spec.md §3: "Pools are keyed by service_id").
type Pool struct {
	MaxPoolSize int
	MaxIdleTime time.Duration

	mu    sync.Mutex
	pools map[string]*servicePool
}

// NewPool builds a Pool with the given per-service capacity and idle
// timeout. A non-positive maxPoolSize/maxIdleTime falls back to
// DefaultMaxPoolSize/DefaultMaxIdleTime.
func NewPool(maxPoolSize int, maxIdleTime time.Duration) *Pool {
	if maxPoolSize <= 0 {
		maxPoolSize = DefaultMaxPoolSize
	}
	if maxIdleTime <= 0 {
		maxIdleTime = DefaultMaxIdleTime
	}
	return &Pool{
		MaxPoolSize: maxPoolSize,
		MaxIdleTime: maxIdleTime,
		pools:       make(map[string]*servicePool),
	}
}

func (p *Pool) poolFor(serviceID string) *servicePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.pools[serviceID]
	if !ok {
		sp = newServicePool()
		p.pools[serviceID] = sp
	}
	return sp
}

// Acquire returns a pooled, initialized connection for desc.ServiceID,
// preferring an idle one, else opening a new one (connecting and
// performing the initialize/initialized handshake) up to MaxPoolSize, else
// waiting up to 30s for one to free (spec.md §4.E).
func (p *Pool) Acquire(ctx context.Context, desc wire.ServiceDescriptor) (*PooledConnection, error) {
	sp := p.poolFor(desc.ServiceID)
	return sp.acquire(ctx, p.MaxPoolSize, func(ctx context.Context) (Transport, error) {
		transport := TransportFactory(desc)
		if err := transport.Connect(ctx); err != nil {
			return nil, err
		}
		if err := handshake(ctx, transport); err != nil {
			transport.Close()
			return nil, err
		}
		return transport, nil
	})
}

// Release returns conn to the pool for reuse.
func (p *Pool) Release(serviceID string, conn *PooledConnection) {
	p.poolFor(serviceID).release(conn, false)
}

// Invalidate closes conn and discards it rather than returning it to the
// idle set, used when a call against it returned a transport-level error
// (spec.md §5: "cancellation closes the session rather than reusing it").
func (p *Pool) Invalidate(serviceID string, conn *PooledConnection) {
	p.poolFor(serviceID).release(conn, true)
}

// RunIdleSweeper closes idle connections older than MaxIdleTime on
// interval until ctx is canceled. The composition root spawns this
// alongside the health Prober as a supervised background task.
func (p *Pool) RunIdleSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			pools := make([]*servicePool, 0, len(p.pools))
			for _, sp := range p.pools {
				pools = append(pools, sp)
			}
			p.mu.Unlock()

			for _, sp := range pools {
				sp.sweepIdle(p.MaxIdleTime)
			}
		}
	}
}

// CloseAll closes every pooled connection across every service, used on
// fleet shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	pools := p.pools
	p.pools = make(map[string]*servicePool)
	p.mu.Unlock()

	for _, sp := range pools {
		sp.closeAll()
	}
}

func handshake(ctx context.Context, transport Transport) error {
	params := wire.InitializeParams{
		ProtocolVersion: wire.ProtocolVersion,
		ClientInfo:      wire.ClientInfo{Name: "toolmesh", Version: "1.0.0"},
	}
	if _, err := transport.Call(ctx, "initialize", params); err != nil {
		return err
	}
	return transport.Notify(ctx, "notifications/initialized", nil)
}
