// Package ipc implements the message-passing substrate MollenOS
// processes and the kernel use to talk to each other: a lock-free ring
// (streambuffer), per-port pipes built on top of it, and an RPC layer
// that frames request/response calls across a pipe.
package ipc

import (
	"sync/atomic"

	"github.com/mollenos/mollenkit/kernelerr"
	"github.com/mollenos/mollenkit/logging"
)

// Options is a bitmask configuring a Streambuffer's concurrency
// contract.
type Options uint32

const (
	// MultipleProducers allows more than one writer to contend for
	// reservation slots; producers are serialized by CAS on the
	// reserve cursor.
	MultipleProducers Options = 1 << iota
	// MultipleConsumers allows more than one reader to contend for
	// consumption slots.
	MultipleConsumers
	// Global marks a buffer visible across process boundaries, as
	// opposed to a thread-private built-in pipe.
	Global
)

// Flags controls the blocking behavior of a single read or write call.
type Flags uint32

const (
	// NoBlock returns immediately (0 bytes transferred) rather than
	// wait for space or data.
	NoBlock Flags = 1 << iota
	// AllowPartial permits a byte-stream call to return fewer bytes
	// than requested once at least one byte has transferred.
	AllowPartial
)

// packetPrefixSize is the length of the length-prefix written before
// every packet in packet-stream mode, so a reader never observes a
// partial packet.
const packetPrefixSize = 4

// Streambuffer is a single-producer/single-consumer (or, with the
// Multiple* options, many-to-many) ring buffer guarded by four
// independent atomic cursors: producer-reserve, producer-commit,
// consumer-reserve, consumer-commit. Bytes at ring position p are
// valid to read when consumerCommit <= p < producerCommit (mod
// capacity).
type Streambuffer struct {
	data     []byte
	capacity uint32
	options  Options

	producerReserve atomic.Uint32
	producerCommit  atomic.Uint32
	consumerReserve atomic.Uint32
	consumerCommit  atomic.Uint32

	closed atomic.Bool

	notify notifier
	logger *logging.Logger
}

// NewStreambuffer allocates a ring of the given capacity (rounded up
// internally is not required; callers pick a capacity that is a
// multiple of the largest packet they intend to send).
func NewStreambuffer(capacity uint32, options Options) *Streambuffer {
	return &Streambuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
		options:  options,
		notify:   newNotifier(),
		logger:   logging.Default(),
	}
}

// SetLogger replaces the buffer's logger.
func (s *Streambuffer) SetLogger(logger *logging.Logger) {
	s.logger = logger
}

// Close marks the buffer closed; blocked readers and writers are woken
// and observe EOF/closed behavior rather than waiting forever.
func (s *Streambuffer) Close() {
	s.closed.Store(true)
	s.notify.Broadcast()
	s.logger.Debug("streambuffer closed")
}

func (s *Streambuffer) available() uint32 {
	return s.producerCommit.Load() - s.consumerCommit.Load()
}

func (s *Streambuffer) freeSpace() uint32 {
	return s.capacity - (s.producerReserve.Load() - s.consumerCommit.Load())
}

// reserveProducer atomically reserves up to want bytes (at least one,
// unless the buffer is completely full) and returns the reservation's
// starting cursor position (copyIn reduces it modulo capacity) and the
// count actually reserved. Concurrent producers are serialized by
// CAS on producerReserve, matching the spec's invariant. Byte-stream
// Write tolerates the partial grant this allows; packet mode cannot
// (see reserveProducerExact).
func (s *Streambuffer) reserveProducer(want uint32, block bool) (offset, count uint32, err error) {
	return s.reserveProducerSlots(want, block, false)
}

// reserveProducerExact reserves want bytes as a single all-or-nothing
// unit: either the full amount is granted, or producerReserve is left
// untouched. A partial grant here would advance producerReserve past
// what the caller can actually commit, and there is no way to hand the
// unused remainder back once the CAS succeeds — that permanently
// shrinks the ring's effective free space. Packet framing (a length
// prefix plus its payload) needs exactly this: WritePacketStart must
// either get the whole frame or nothing.
func (s *Streambuffer) reserveProducerExact(want uint32, block bool) (offset uint32, ok bool, err error) {
	offset, n, err := s.reserveProducerSlots(want, block, true)
	return offset, n == want, err
}

func (s *Streambuffer) reserveProducerSlots(want uint32, block, exact bool) (offset, count uint32, err error) {
	for {
		if s.closed.Load() {
			return 0, 0, kernelerr.New("Streambuffer.reserveProducer", kernelerr.DoesNotExist, "buffer closed")
		}
		cur := s.producerReserve.Load()
		free := s.capacity - (cur - s.consumerCommit.Load())
		if free == 0 || (exact && free < want) {
			if !block {
				return 0, 0, nil
			}
			s.logger.Debug("producer blocked waiting for space", "want", want, "free", free)
			s.notify.Wait(func() bool {
				if s.closed.Load() {
					return true
				}
				f := s.capacity - (s.producerReserve.Load() - s.consumerCommit.Load())
				if exact {
					return f >= want
				}
				return f > 0
			})
			continue
		}
		grant := want
		if !exact && grant > free {
			grant = free
		}
		if s.producerReserve.CompareAndSwap(cur, cur+grant) {
			return cur, grant, nil
		}
	}
}

func (s *Streambuffer) commitProducer(reservedAt, count uint32) {
	for !s.producerCommit.CompareAndSwap(reservedAt, reservedAt+count) {
	}
	s.notify.Broadcast()
}

func (s *Streambuffer) reserveConsumer(want uint32, block bool) (offset, count uint32, err error) {
	for {
		cur := s.consumerReserve.Load()
		avail := s.producerCommit.Load() - cur
		if avail == 0 {
			if s.closed.Load() {
				return 0, 0, nil
			}
			if !block {
				return 0, 0, nil
			}
			s.logger.Debug("consumer blocked waiting for data", "want", want)
			s.notify.Wait(func() bool {
				return s.closed.Load() || s.producerCommit.Load()-s.consumerReserve.Load() > 0
			})
			continue
		}
		grant := want
		if grant > avail {
			grant = avail
		}
		if s.consumerReserve.CompareAndSwap(cur, cur+grant) {
			return cur, grant, nil
		}
	}
}

func (s *Streambuffer) commitConsumer(reservedAt, count uint32) {
	for !s.consumerCommit.CompareAndSwap(reservedAt, reservedAt+count) {
	}
	s.notify.Broadcast()
}

func (s *Streambuffer) copyIn(offset uint32, data []byte) {
	offset %= s.capacity
	n := uint32(len(data))
	first := s.capacity - offset
	if first >= n {
		copy(s.data[offset:], data)
		return
	}
	copy(s.data[offset:], data[:first])
	copy(s.data[0:], data[first:])
}

func (s *Streambuffer) copyOut(offset uint32, out []byte) {
	offset %= s.capacity
	n := uint32(len(out))
	first := s.capacity - offset
	if first >= n {
		copy(out, s.data[offset:offset+n])
		return
	}
	copy(out, s.data[offset:])
	copy(out[first:], s.data[0:n-first])
}

// Write implements byte-stream mode. By default it blocks for space
// and keeps reserving until all of p is written; it returns short only
// with an error, when the buffer is closed. AllowPartial returns after
// the first reserved chunk, however short. NoBlock never waits: it
// returns what fit in one reservation, or 0 if the buffer is full.
func (s *Streambuffer) Write(p []byte, flags Flags) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	block := flags&NoBlock == 0
	written := 0
	for written < len(p) {
		offset, n, err := s.reserveProducer(uint32(len(p)-written), block)
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
		s.copyIn(offset, p[written:written+int(n)])
		s.commitProducer(offset, n)
		written += int(n)
		if flags&AllowPartial != 0 {
			break
		}
		if written > 0 && flags&NoBlock != 0 {
			break
		}
	}
	return written, nil
}

// Read implements byte-stream mode, symmetric to Write.
func (s *Streambuffer) Read(p []byte, flags Flags) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	block := flags&NoBlock == 0
	read := 0
	for read < len(p) {
		offset, n, err := s.reserveConsumer(uint32(len(p)-read), block)
		if err != nil {
			return read, err
		}
		if n == 0 {
			break
		}
		s.copyOut(offset, p[read:read+int(n)])
		s.commitConsumer(offset, n)
		read += int(n)
		if flags&AllowPartial != 0 {
			break
		}
		if read > 0 && flags&NoBlock != 0 {
			break
		}
	}
	return read, nil
}

// PacketState is the handle a writer threads between
// WritePacketStart/WritePacketData/WritePacketEnd.
type PacketState struct {
	base    uint32
	written uint32
	total   uint32
}

// WritePacketStart atomically reserves len+prefix bytes and writes the
// length prefix, returning the base cursor position (informational, for
// callers that log it) and a state to stage payload into with
// WritePacketData.
func (s *Streambuffer) WritePacketStart(length uint32, flags Flags) (uint32, *PacketState, error) {
	block := flags&NoBlock == 0
	offset, ok, err := s.reserveProducerExact(length+packetPrefixSize, block)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, kernelerr.New("Streambuffer.WritePacketStart", kernelerr.OutOfMemory, "insufficient contiguous reservation for packet")
	}
	var prefix [packetPrefixSize]byte
	putUint32(prefix[:], length)
	s.copyIn(offset, prefix[:])
	return offset, &PacketState{base: offset, total: length}, nil
}

// WritePacketData stages payload bytes into the slot WritePacketStart
// reserved. It may be called multiple times to assemble the packet
// incrementally.
func (s *Streambuffer) WritePacketData(state *PacketState, buf []byte) {
	payloadOffset := (state.base + packetPrefixSize + state.written) % s.capacity
	s.copyIn(payloadOffset, buf)
	state.written += uint32(len(buf))
}

// WritePacketEnd publishes the packet, making it visible to readers
// atomically as a whole.
func (s *Streambuffer) WritePacketEnd(state *PacketState) {
	s.commitProducer(state.base, state.total+packetPrefixSize)
}

// ReadPacket blocks until a complete packet is available and returns
// its payload. The reader never observes a partial packet: the length
// prefix and payload are only visible once WritePacketEnd has
// committed them together.
func (s *Streambuffer) ReadPacket(flags Flags) ([]byte, error) {
	block := flags&NoBlock == 0
	prefixOff, n, err := s.reserveConsumer(packetPrefixSize, block)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	var prefix [packetPrefixSize]byte
	s.copyOut(prefixOff, prefix[:])
	s.commitConsumer(prefixOff, packetPrefixSize)
	length := getUint32(prefix[:])

	payloadOff, n, err := s.reserveConsumer(length, true)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	s.copyOut(payloadOff, payload)
	s.commitConsumer(payloadOff, n)
	return payload, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

