package ports

import (
	"net"
	"testing"
	"time"
)

func TestAllocateWithinRange(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20100, 20110)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port < 20100 || port > 20110 {
		t.Fatalf("port %d out of range", port)
	}
}

func TestAllocateAvoidsOccupiedPort(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20200, 20202)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:20200")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port == 20200 {
		t.Fatalf("allocated an occupied port")
	}
}

func TestReleaseEntersCooldown(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20300, 20300, WithRecentTTL(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Release(port)

	// Within the cool-down window the only port in range was just
	// released, so the strict scan finds nothing and the allocator must
	// fall back to its ignore-cooldown retry to hand it out again.
	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if got != port {
		t.Fatalf("expected same port %d back from single-port range, got %d", port, got)
	}
}

func TestAllocateExhaustedRangeFallsBackToEphemeral(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20400, 20400, WithEphemeralFallback())
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:20400")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port == 20400 {
		t.Fatalf("expected an ephemeral fallback port, not the occupied configured one")
	}
}

func TestAllocateExhaustedRangeWithoutFallbackErrors(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20500, 20500)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:20500")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	if _, err := a.Allocate(); err == nil {
		t.Fatal("expected error when range is exhausted and no fallback configured")
	}
}

func TestIsFree(t *testing.T) {
	a, err := NewAllocator("127.0.0.1", 20600, 20600)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	if !a.IsFree(20600) {
		t.Fatal("expected port to be free")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:20600")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()
	if a.IsFree(20600) {
		t.Fatal("expected port to be reported in use")
	}
}
