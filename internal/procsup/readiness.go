package procsup

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ReadinessCheck confirms a launched subprocess is ready to accept traffic,
// per spec.md §4.C: "readiness is transport-appropriate: a TCP bind
// confirmation followed by a transport handshake".
type ReadinessCheck struct {
	Host      string
	Port      int
	Transport string // "websocket" | "http" | "stdio"
	Timeout   time.Duration
}

// WaitReady polls until the process is accepting connections and completes
// a lightweight transport-appropriate handshake, or ctx/timeout expires.
func WaitReady(ctx context.Context, check ReadinessCheck) error {
	if check.Timeout <= 0 {
		check.Timeout = 30 * time.Second
	}
	deadline := time.Now().Add(check.Timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := probeOnce(ctx, check); err != nil {
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("procsup: readiness timed out with no successful probe")
	}
	return fmt.Errorf("procsup: service not ready after %s: %w", check.Timeout, lastErr)
}

// Probe performs a single transport-appropriate liveness check without
// polling, for use by a running health monitor rather than launch-time
// readiness waiting.
func Probe(ctx context.Context, check ReadinessCheck) error {
	return probeOnce(ctx, check)
}

func probeOnce(ctx context.Context, check ReadinessCheck) error {
	addr := net.JoinHostPort(check.Host, fmt.Sprintf("%d", check.Port))

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("bind probe: %w", err)
	}
	conn.Close()

	switch check.Transport {
	case "websocket":
		return probeWebsocket(ctx, addr)
	case "http":
		return probeHTTP(ctx, addr)
	default:
		// stdio and any other in-band transport has no separate network
		// handshake to probe; the TCP bind check above is sufficient.
		return nil
	}
}

func probeWebsocket(ctx context.Context, addr string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	url := "ws://" + addr + "/"
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket handshake: %w", err)
	}
	conn.Close()
	return nil
}

func probeHTTP(ctx context.Context, addr string) error {
	client := http.Client{Timeout: 2 * time.Second}
	for _, path := range []string{"/health", "/ping", "/status", "/"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return nil
		}
	}
	return fmt.Errorf("http handshake: no probe path responded")
}
