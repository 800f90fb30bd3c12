package ports

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocationObserverRecordsLeased(t *testing.T) {
	var outcomes []string
	a, err := NewAllocator("127.0.0.1", 20700, 20705, WithAllocationObserver(func(outcome string) {
		outcomes = append(outcomes, outcome)
	}))
	require.NoError(t, err)

	port, err := a.Allocate()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 20700)
	assert.Equal(t, []string{"leased"}, outcomes)
}

func TestAllocationObserverRecordsEphemeral(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:20800")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	var outcomes []string
	a, err := NewAllocator("127.0.0.1", 20800, 20800,
		WithEphemeralFallback(),
		WithAllocationObserver(func(outcome string) { outcomes = append(outcomes, outcome) }))
	require.NoError(t, err)

	_, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, []string{"ephemeral"}, outcomes)
}

func TestAllocationObserverRecordsExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:20900")
	if err != nil {
		t.Skipf("could not bind test listener: %v", err)
	}
	defer ln.Close()

	var outcomes []string
	a, err := NewAllocator("127.0.0.1", 20900, 20900,
		WithAllocationObserver(func(outcome string) { outcomes = append(outcomes, outcome) }))
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.Error(t, err)
	assert.Equal(t, []string{"exhausted"}, outcomes)
}
