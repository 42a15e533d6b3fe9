package ipc

import "github.com/mollenos/mollenkit/kernelerr"

// defaultPipeCapacity is used when a caller doesn't have a better
// estimate of how much buffered traffic a port needs to absorb.
const defaultPipeCapacity = 16 * 1024

// Pipe wraps a single Streambuffer as the per-process-port (or
// per-thread, for the built-in pipe at Port == -1) channel the spec
// describes.
type Pipe struct {
	Port int32
	ring *Streambuffer
}

// NewPipe creates a pipe for the given port. Use Port == -1 for a
// thread's built-in pipe, which is not registered in any process port
// table.
func NewPipe(port int32, options Options) *Pipe {
	return &Pipe{Port: port, ring: NewStreambuffer(defaultPipeCapacity, options)}
}

// Read reads up to len(buf) bytes from the pipe.
func (p *Pipe) Read(buf []byte, flags Flags) (int, error) {
	return p.ring.Read(buf, flags)
}

// Write writes buf to the pipe.
func (p *Pipe) Write(buf []byte, flags Flags) (int, error) {
	return p.ring.Write(buf, flags)
}

// Close shuts the pipe's ring down, unblocking any readers/writers
// parked on it.
func (p *Pipe) Close() {
	p.ring.Close()
}

// PortTable is the per-process (or per-thread) map of open ports to
// pipes. kernel.Process holds one as its Pipes field, so kcall's
// syscall handlers and any other caller share the open/close/write
// semantics below, including the DoesNotExist error for an unknown
// port.
type PortTable map[int32]*Pipe

// Open creates (or returns the existing) pipe for port in t.
func (t PortTable) Open(port int32, options Options) *Pipe {
	if p, ok := t[port]; ok {
		return p
	}
	p := NewPipe(port, options)
	t[port] = p
	return p
}

// Close removes and shuts down the pipe at port, if any.
func (t PortTable) Close(port int32) {
	if p, ok := t[port]; ok {
		p.Close()
		delete(t, port)
	}
}

// Write looks up port in the target table and writes buf to it,
// failing with DoesNotExist ("invalid port") if the port does not exist on the target
// process, matching the spec's write() contract.
func (t PortTable) Write(port int32, buf []byte, flags Flags) (int, error) {
	p, ok := t[port]
	if !ok {
		return 0, kernelerr.New("PortTable.Write", kernelerr.DoesNotExist, "invalid port")
	}
	return p.Write(buf, flags)
}

// Read looks up port in t and reads from it, failing with
// DoesNotExist if the port isn't open.
func (t PortTable) Read(port int32, buf []byte, flags Flags) (int, error) {
	p, ok := t[port]
	if !ok {
		return 0, kernelerr.New("PortTable.Read", kernelerr.DoesNotExist, "invalid port")
	}
	return p.Read(buf, flags)
}

// CloseAll shuts down and removes every open port, used when a process
// exits and every pipe it owns must stop blocking readers/writers.
func (t PortTable) CloseAll() {
	for port, p := range t {
		p.Close()
		delete(t, port)
	}
}
