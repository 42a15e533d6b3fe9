package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreambufferByteStreamRoundTrip(t *testing.T) {
	sb := NewStreambuffer(64, 0)
	n, err := sb.Write([]byte("hello world"), 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = sb.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
}

func TestStreambufferWrapsAroundRing(t *testing.T) {
	sb := NewStreambuffer(8, 0)
	_, err := sb.Write([]byte("abcdef"), 0)
	require.NoError(t, err)
	out := make([]byte, 4)
	_, err = sb.Read(out, 0)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(out))

	// producerReserve is now at 6, consumerCommit at 4; writing 6 more
	// bytes forces a wraparound through copyIn's split-copy path.
	_, err = sb.Write([]byte("ghijkl"), 0)
	require.NoError(t, err)
	rest := make([]byte, 8)
	n, err := sb.Read(rest, 0)
	require.NoError(t, err)
	require.Equal(t, "efghijkl", string(rest[:n]))
}

func TestStreambufferNoBlockReturnsImmediatelyWhenEmpty(t *testing.T) {
	sb := NewStreambuffer(16, 0)
	buf := make([]byte, 4)
	n, err := sb.Read(buf, NoBlock)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestStreambufferBlockingWriterWakesOnRead(t *testing.T) {
	sb := NewStreambuffer(4, 0)
	_, err := sb.Write([]byte("abcd"), 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, err := sb.Write([]byte("ef"), 0)
		require.NoError(t, err)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	out := make([]byte, 2)
	_, err = sb.Read(out, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked writer never woke after space freed")
	}
}

func TestStreambufferClosedUnblocksWaiters(t *testing.T) {
	sb := NewStreambuffer(4, 0)
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4)
		sb.Read(buf, 0)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	sb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closing the buffer never woke a blocked reader")
	}
}

func TestStreambufferPacketIsAtomicallyVisible(t *testing.T) {
	sb := NewStreambuffer(128, 0)
	_, state, err := sb.WritePacketStart(10, 0)
	require.NoError(t, err)
	sb.WritePacketData(state, []byte("hello"))
	sb.WritePacketData(state, []byte("world"))
	sb.WritePacketEnd(state)

	payload, err := sb.ReadPacket(0)
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(payload))
}

// TestStreambufferFailedPacketReservationDoesNotLeakCapacity guards
// against a partial packet reservation permanently shrinking the ring:
// a packet request that doesn't fit must leave producerReserve
// untouched, not advance it by whatever fraction happened to be free.
func TestStreambufferFailedPacketReservationDoesNotLeakCapacity(t *testing.T) {
	sb := NewStreambuffer(16, 0)

	_, err := sb.Write(make([]byte, 15), 0)
	require.NoError(t, err)

	// Only 1 byte is free; a 14-byte packet (10 payload + 4-byte prefix)
	// cannot be granted even partially.
	_, state, err := sb.WritePacketStart(10, NoBlock)
	require.Error(t, err)
	require.Nil(t, state)

	out := make([]byte, 15)
	n, err := sb.Read(out, 0)
	require.NoError(t, err)
	require.Equal(t, 15, n)

	// The whole ring must be free again. A leaked reservation from the
	// failed call above would have permanently stranded 1 byte, and
	// this 16-byte packet (12 payload + 4-byte prefix) would never fit.
	_, state, err = sb.WritePacketStart(12, NoBlock)
	require.NoError(t, err)
	require.NotNil(t, state)
	sb.WritePacketData(state, []byte("abcdefghijkl"))
	sb.WritePacketEnd(state)

	payload, err := sb.ReadPacket(0)
	require.NoError(t, err)
	require.Equal(t, "abcdefghijkl", string(payload))
}

func TestStreambufferConcurrentPacketProducersPreserveWholePackets(t *testing.T) {
	sb := NewStreambuffer(4096, MultipleProducers)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i), byte(i), byte(i), byte(i)}
			_, state, err := sb.WritePacketStart(uint32(len(payload)), 0)
			require.NoError(t, err)
			sb.WritePacketData(state, payload)
			sb.WritePacketEnd(state)
		}(i)
	}
	wg.Wait()

	seen := 0
	for i := 0; i < n; i++ {
		payload, err := sb.ReadPacket(0)
		require.NoError(t, err)
		require.Len(t, payload, 4)
		require.Equal(t, payload[0], payload[1])
		require.Equal(t, payload[0], payload[2])
		require.Equal(t, payload[0], payload[3])
		seen++
	}
	require.Equal(t, n, seen)
}
