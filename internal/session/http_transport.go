package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// HTTPTransport is the secondary transport from spec.md §5: a JSON-RPC
// request/response exchange over plain HTTP POST, grounded on the
// teacher's internal/mcp.HTTPTransport.
type HTTPTransport struct {
	url    string
	client *http.Client

	connected atomic.Bool
}

// NewHTTPTransport builds an HTTPTransport for a service descriptor.
func NewHTTPTransport(desc wire.ServiceDescriptor) *HTTPTransport {
	host := desc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &HTTPTransport{
		url:    fmt.Sprintf("http://%s:%d/rpc", host, desc.Port),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	return nil
}

func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *HTTPTransport) Connected() bool { return t.connected.Load() }

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("session: http transport not connected")
	}

	req := wire.Request{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp wire.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	_, err := t.Call(ctx, method, params)
	return err
}
