package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/toolmesh/internal/toolerr"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// countingTransport is a Transport stand-in that tracks how many distinct
// instances were created, for asserting a pool actually bounds concurrency
// rather than silently serializing through one shared connection.
type countingTransport struct {
	id        int
	connected bool
}

func (c *countingTransport) Connect(ctx context.Context) error { c.connected = true; return nil }
func (c *countingTransport) Close() error                      { c.connected = false; return nil }
func (c *countingTransport) Connected() bool                    { return c.connected }
func (c *countingTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method == "initialize" {
		return json.Marshal(wire.InitializeResult{})
	}
	return json.RawMessage("null"), nil
}
func (c *countingTransport) Notify(ctx context.Context, method string, params any) error { return nil }

func newCountingFactory() (func(wire.ServiceDescriptor) Transport, *int32) {
	var created int32
	factory := func(wire.ServiceDescriptor) Transport {
		id := atomic.AddInt32(&created, 1)
		return &countingTransport{id: int(id)}
	}
	return factory, &created
}

func TestPoolAcquireCapsConcurrencyAtMaxPoolSize(t *testing.T) {
	factory, created := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	pool := NewPool(2, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	c1, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	c2, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if atomic.LoadInt32(created) != 2 {
		t.Fatalf("expected 2 connections created, got %d", *created)
	}

	// The pool is now at capacity (both connections in use); a third
	// acquire must wait rather than open a new connection.
	acquired := make(chan *PooledConnection, 1)
	go func() {
		conn, err := pool.Acquire(context.Background(), desc)
		if err != nil {
			t.Errorf("acquire 3: %v", err)
			return
		}
		acquired <- conn
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire returned before a connection was released")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release("svc", c1)

	select {
	case conn := <-acquired:
		if conn == nil {
			t.Fatal("expected a non-nil connection after release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("third acquire never unblocked after release")
	}

	if atomic.LoadInt32(created) != 2 {
		t.Fatalf("expected no new connection beyond the released one, got %d created", *created)
	}

	pool.Release("svc", c2)
}

func TestPoolAcquireAllowsNCallsWithMaxPlusFourConcurrency(t *testing.T) {
	factory, _ := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	const maxPoolSize = 3
	const extra = 4
	pool := NewPool(maxPoolSize, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup
	errs := make(chan error, maxPoolSize+extra)

	for i := 0; i < maxPoolSize+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.Acquire(context.Background(), desc)
			if err != nil {
				errs <- err
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			pool.Release("svc", conn)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected ServiceUnavailable/error under bounded concurrency: %v", err)
	}
	if atomic.LoadInt32(&maxObserved) > maxPoolSize {
		t.Fatalf("observed %d concurrent in-flight connections, want <= %d", maxObserved, maxPoolSize)
	}
}

func TestPoolReleaseTracksUseCountAndLastUsedAt(t *testing.T) {
	factory, _ := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	pool := NewPool(1, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	conn, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if conn.UseCount() != 0 {
		t.Fatalf("expected fresh connection to have use_count 0, got %d", conn.UseCount())
	}
	before := time.Now()
	pool.Release("svc", conn)
	if conn.UseCount() != 1 {
		t.Fatalf("expected use_count 1 after release, got %d", conn.UseCount())
	}
	if conn.LastUsedAt().Before(before) {
		t.Fatal("expected last_used_at to be set at release time")
	}

	reacquired, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if reacquired != conn {
		t.Fatal("expected the idle connection to be reused rather than a new one opened")
	}
}

func TestPoolInvalidateDiscardsConnectionAndFreesCapacity(t *testing.T) {
	factory, created := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	pool := NewPool(1, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	conn, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Invalidate("svc", conn)

	if conn.Transport().Connected() {
		t.Fatal("expected the invalidated connection's transport to be closed")
	}

	next, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire after invalidate: %v", err)
	}
	if next == conn {
		t.Fatal("expected a fresh connection after invalidate, not the discarded one")
	}
	if atomic.LoadInt32(created) != 2 {
		t.Fatalf("expected 2 connections created total, got %d", *created)
	}
}

func TestPoolAcquireReturnsServiceUnavailableOnExhaustion(t *testing.T) {
	priorDeadline := acquireWaitDeadline
	acquireWaitDeadline = 20 * time.Millisecond
	defer func() { acquireWaitDeadline = priorDeadline }()

	factory, _ := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	pool := NewPool(1, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	conn, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pool.Release("svc", conn)

	_, err = pool.Acquire(context.Background(), desc)
	if toolerr.KindOf(err) != toolerr.KindServiceUnavailable {
		t.Fatalf("expected KindServiceUnavailable on exhaustion, got %v", err)
	}
}

func TestServicePoolSweepIdleClosesStaleConnections(t *testing.T) {
	factory, _ := newCountingFactory()
	prior := TransportFactory
	TransportFactory = factory
	t.Cleanup(func() { TransportFactory = prior })

	pool := NewPool(2, time.Hour)
	desc := wire.ServiceDescriptor{ServiceID: "svc"}

	conn, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release("svc", conn)
	conn.lastUsedAt = time.Now().Add(-time.Hour)

	sp := pool.poolFor("svc")
	sp.sweepIdle(time.Minute)

	if conn.Transport().Connected() {
		t.Fatal("expected the stale idle connection to be closed by the sweep")
	}

	fresh, err := pool.Acquire(context.Background(), desc)
	if err != nil {
		t.Fatalf("acquire after sweep: %v", err)
	}
	if fresh == conn {
		t.Fatal("expected the sweep to have discarded the stale connection entirely")
	}
}
