package procsup

import (
	"context"
	"net"
	"testing"
	"time"
)

// listenAndServe starts a trivial TCP listener so WaitReady's bind probe
// has something to connect to, returning the port and a stop function.
func listenAndServe(t *testing.T) (int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return port, func() { ln.Close() }
}

func TestHandleLaunchAndTerminate(t *testing.T) {
	h := NewHandle(Spec{
		ServiceID: "sleepy",
		Command:   "sh",
		Args:      []string{"-c", "sleep 30"},
	})

	ctx := context.Background()
	if err := h.Launch(ctx); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if h.PID() == 0 {
		t.Fatal("expected nonzero pid after launch")
	}
	if !h.Alive() {
		t.Fatal("expected process to be alive")
	}

	if err := h.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if h.Status() != StatusStopped && h.Status() != StatusError {
		t.Fatalf("expected stopped/error status after terminate, got %s", h.Status())
	}
}

func TestWaitReadyStdioNeedsOnlyBindProbe(t *testing.T) {
	port, stop := listenAndServe(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := WaitReady(ctx, ReadinessCheck{Host: "127.0.0.1", Port: port, Transport: "stdio", Timeout: time.Second})
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestWaitReadyTimesOutWhenNothingListening(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := WaitReady(ctx, ReadinessCheck{Host: "127.0.0.1", Port: 1, Transport: "stdio", Timeout: 300 * time.Millisecond})
	if err == nil {
		t.Fatal("expected readiness timeout error")
	}
}

func TestSupervisorLaunchAndTerminate(t *testing.T) {
	port, stop := listenAndServe(t)
	defer stop()

	sup := NewSupervisor(nil)
	ctx := context.Background()

	spec := Spec{ServiceID: "svc-a", Command: "sh", Args: []string{"-c", "sleep 30"}}
	check := ReadinessCheck{Host: "127.0.0.1", Port: port, Transport: "stdio", Timeout: time.Second}

	h, err := sup.Launch(ctx, spec, check)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got, ok := sup.Get("svc-a"); !ok || got != h {
		t.Fatal("expected Get to return the launched handle")
	}

	if err := sup.Terminate(ctx, "svc-a"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, ok := sup.Get("svc-a"); ok {
		t.Fatal("expected handle to be untracked after terminate")
	}
}

func TestSupervisorDuplicateLaunchErrors(t *testing.T) {
	port, stop := listenAndServe(t)
	defer stop()

	sup := NewSupervisor(nil)
	ctx := context.Background()
	spec := Spec{ServiceID: "svc-b", Command: "sh", Args: []string{"-c", "sleep 30"}}
	check := ReadinessCheck{Host: "127.0.0.1", Port: port, Transport: "stdio", Timeout: time.Second}

	if _, err := sup.Launch(ctx, spec, check); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	defer sup.Terminate(ctx, "svc-b")

	if _, err := sup.Launch(ctx, spec, check); err == nil {
		t.Fatal("expected duplicate launch to error")
	}
}
