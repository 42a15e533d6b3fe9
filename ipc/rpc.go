package ipc

import "encoding/binary"

// MaxArguments bounds the number of arguments a single RemoteCall
// carries, mirroring the fixed-size IPC_MAX_ARGUMENTS array the spec
// describes rather than a slice, so the header has a fixed wire size.
const MaxArguments = 5

// EndpointType distinguishes a process-owned port from a thread's
// built-in pipe as an RPC source or destination.
type EndpointType uint8

const (
	EndpointProcess EndpointType = 0
	EndpointThread  EndpointType = 1
)

// Endpoint names one side of a call: a (process, port) pair, or, when
// Type is EndpointThread, a specific thread's built-in pipe (Process
// holds the thread id in that case).
type Endpoint struct {
	Process uint32
	Port    int32
	Type    EndpointType
}

// ArgumentTag classifies a RemoteCall argument slot.
type ArgumentTag uint8

const (
	ArgNotUsed ArgumentTag = iota
	ArgValue
	ArgBuffer
)

// Argument is one slot of a RemoteCall's argument array. For ArgValue,
// Value carries the scalar payload. For ArgBuffer, Length is the
// buffer's byte size on the wire; Buffer holds the bytes to send (on
// the caller side) or, after Listen, a slice into the caller-supplied
// arg_buffer (on the callee side).
type Argument struct {
	Tag    ArgumentTag
	Value  uint64
	Length uint32
	Buffer []byte
}

// RemoteCall is the full request/response envelope the spec describes:
// a from/to endpoint pair, a function selector, a fixed argument
// array, and a result slot filled in by Respond.
type RemoteCall struct {
	From      Endpoint
	To        Endpoint
	Function  uint32
	Arguments [MaxArguments]Argument
	Result    Argument
}

// headerSize is the fixed wire size of a RemoteCall's header (from,
// to, function, argument tags/values/lengths) excluding buffer
// payloads, which follow immediately after in argument order.
const headerSize = 4 + 4 + 1 + 3 + /* from */
	4 + 4 + /* to */
	4 + /* function */
	MaxArguments*(1+3+8+4) /* arguments: tag, pad, value, length */

// MarshalHeader encodes call's header (not including ArgBuffer
// payloads) exactly as Execute writes it to the wire. Respond callers
// use this to build the reply bytes a synchronous Execute caller will
// decode back with UnmarshalHeader.
func MarshalHeader(call *RemoteCall) []byte {
	return marshalHeader(call)
}

func marshalHeader(call *RemoteCall) []byte {
	buf := make([]byte, headerSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], call.From.Process)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(call.From.Port))
	off += 4
	buf[off] = byte(call.From.Type)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], call.To.Process)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(call.To.Port))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], call.Function)
	off += 4
	for i := 0; i < MaxArguments; i++ {
		a := call.Arguments[i]
		buf[off] = byte(a.Tag)
		off += 4
		binary.LittleEndian.PutUint64(buf[off:], a.Value)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], a.Length)
		off += 4
	}
	return buf
}

// UnmarshalHeader decodes a RemoteCall header produced by
// MarshalHeader, without the buffer-argument payloads that follow it
// in a full Execute/Listen frame.
func UnmarshalHeader(buf []byte) RemoteCall {
	return unmarshalHeader(buf)
}

func unmarshalHeader(buf []byte) RemoteCall {
	var call RemoteCall
	off := 0
	call.From.Process = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	call.From.Port = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	call.From.Type = EndpointType(buf[off])
	off += 4
	call.To.Process = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	call.To.Port = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	call.Function = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	for i := 0; i < MaxArguments; i++ {
		call.Arguments[i].Tag = ArgumentTag(buf[off])
		off += 4
		call.Arguments[i].Value = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		call.Arguments[i].Length = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	return call
}

// Execute serializes call's header, then each ArgBuffer argument's
// payload, into target atomically (each rpc_execute reserves its
// producer ticket on target before returning, so two callers racing
// on the same target pipe are delivered in the order their reservation
// CAS succeeded). If async, Execute returns as soon as the request is
// queued; otherwise it blocks reading the reply header from source.
func Execute(target, source *Pipe, call *RemoteCall, async bool) (*RemoteCall, error) {
	header := marshalHeader(call)
	total := uint32(len(header))
	for i := range call.Arguments {
		if call.Arguments[i].Tag == ArgBuffer {
			total += uint32(len(call.Arguments[i].Buffer))
		}
	}
	_, state, err := target.ring.WritePacketStart(total, 0)
	if err != nil {
		return nil, err
	}
	target.ring.WritePacketData(state, header)
	for i := range call.Arguments {
		if call.Arguments[i].Tag == ArgBuffer {
			target.ring.WritePacketData(state, call.Arguments[i].Buffer)
		}
	}
	target.ring.WritePacketEnd(state)

	if async {
		return nil, nil
	}

	reply, err := source.ring.ReadPacket(0)
	if err != nil {
		return nil, err
	}
	result := unmarshalHeader(reply)
	return &result, nil
}

// Listen reads one complete call (header plus every ArgBuffer
// argument's payload) off port, slicing each buffer argument's bytes
// out of argBuf in order so the callee never needs a per-call
// allocation for the common case.
func Listen(port *Pipe, argBuf []byte) (*RemoteCall, error) {
	packet, err := port.ring.ReadPacket(0)
	if err != nil {
		return nil, err
	}
	call := unmarshalHeader(packet)
	payload := packet[headerSize:]
	off := 0
	for i := range call.Arguments {
		if call.Arguments[i].Tag == ArgBuffer {
			n := int(call.Arguments[i].Length)
			if off+n > len(argBuf) {
				n = len(argBuf) - off
			}
			if n < 0 {
				n = 0
			}
			copy(argBuf[off:off+n], payload[:n])
			call.Arguments[i].Buffer = argBuf[off : off+n]
			payload = payload[n:]
			off += n
		}
	}
	return &call, nil
}

// Respond writes buf as a single packet to the pipe identified by
// call.From, resolved by the caller-supplied lookup (a process's port
// table, or a thread's built-in pipe when call.From.Type is
// EndpointThread). It writes in packet-stream mode, matching Execute's
// synchronous reply path, which reads the response back with
// ReadPacket rather than a byte-stream Read.
func Respond(resolve func(Endpoint) (*Pipe, error), call *RemoteCall, buf []byte) error {
	pipe, err := resolve(call.From)
	if err != nil {
		return err
	}
	_, state, err := pipe.ring.WritePacketStart(uint32(len(buf)), 0)
	if err != nil {
		return err
	}
	pipe.ring.WritePacketData(state, buf)
	pipe.ring.WritePacketEnd(state)
	return nil
}
