package fleet

import (
	"net"
	"testing"

	"github.com/haasonsaas/toolmesh/internal/ports"
)

func TestResolvePortKeepsConfiguredPortWhenFree(t *testing.T) {
	alloc, err := ports.NewAllocator("127.0.0.1", 21100, 21110)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	port, err := ResolvePort(alloc, 21105)
	if err != nil {
		t.Fatalf("ResolvePort: %v", err)
	}
	if port != 21105 {
		t.Fatalf("expected configured port 21105, got %d", port)
	}
}

func TestResolvePortReallocatesOnConflict(t *testing.T) {
	alloc, err := ports.NewAllocator("127.0.0.1", 21200, 21205)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:21200")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	port, err := ResolvePort(alloc, 21200)
	if err != nil {
		t.Fatalf("ResolvePort: %v", err)
	}
	if port == 21200 {
		t.Fatal("expected a different port when configured one is occupied")
	}
}
