package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// WSTransport is the primary transport from spec.md §5: a persistent
// websocket connection carrying JSON-RPC requests and responses,
// grounded on the teacher's internal/mcp.StdioTransport pending-request
// map, adapted from a stdio pipe to a gorilla/websocket connection.
type WSTransport struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *wire.Response

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWSTransport builds a WSTransport for a service descriptor.
func NewWSTransport(desc wire.ServiceDescriptor) *WSTransport {
	host := desc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &WSTransport{
		url:     fmt.Sprintf("ws://%s:%d/", host, desc.Port),
		pending: make(map[string]chan *wire.Response),
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("session: websocket dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

func (t *WSTransport) Close() error {
	t.connected.Store(false)
	t.mu.Lock()
	conn := t.conn
	stopChan := t.stopChan
	t.mu.Unlock()
	if stopChan != nil {
		select {
		case <-stopChan:
		default:
			close(stopChan)
		}
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()
	return err
}

func (t *WSTransport) Connected() bool { return t.connected.Load() }

func (t *WSTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("session: websocket transport not connected")
	}

	id := uuid.New().String()
	req := wire.Request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respCh := make(chan *wire.Response, 1)
	t.mu.Lock()
	t.pending[id] = respCh
	conn := t.conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WSTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("session: websocket transport not connected")
	}
	notif := wire.Notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	return conn.WriteJSON(notif)
}

func (t *WSTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	t.mu.Lock()
	conn := t.conn
	stopChan := t.stopChan
	t.mu.Unlock()

	for {
		var resp wire.Response
		if err := conn.ReadJSON(&resp); err != nil {
			return
		}
		select {
		case <-stopChan:
			return
		default:
		}

		id, ok := resp.ID.(string)
		if !ok {
			continue
		}
		t.mu.Lock()
		ch, exists := t.pending[id]
		t.mu.Unlock()
		if exists {
			select {
			case ch <- &resp:
			default:
			}
		}
	}
}
