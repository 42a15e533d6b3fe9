package kernel

import (
	"github.com/mollenos/mollenkit/ipc"
	"github.com/mollenos/mollenkit/kernelerr"
)

// OpenPipe opens (or returns the existing) pipe at port on p. Port -1
// is reserved for a thread's built-in pipe and is not valid here; use
// Thread.OpenPipe for that case.
func (p *Process) OpenPipe(port int32, options ipc.Options) (*ipc.Pipe, error) {
	if port < 0 {
		return nil, kernelerr.New("Process.OpenPipe", kernelerr.InvalidParameters, "process ports must be >= 0")
	}
	return p.Pipes.Open(port, options), nil
}

// ClosePipe closes the pipe at port on p, if any.
func (p *Process) ClosePipe(port int32) {
	p.Pipes.Close(port)
}

// ReadPipe reads from the pipe at port on p.
func (p *Process) ReadPipe(port int32, buf []byte, flags ipc.Flags) (int, error) {
	return p.Pipes.Read(port, buf, flags)
}

// WritePipe writes to the pipe at port on p, failing with
// DoesNotExist ("invalid port") if no such port is open.
func (p *Process) WritePipe(port int32, buf []byte, flags ipc.Flags) (int, error) {
	return p.Pipes.Write(port, buf, flags)
}

// OpenPipe opens a thread's single built-in pipe (port == -1 in the
// spec's pipe lookup rules), creating it on first use.
func (t *Thread) OpenPipe(options ipc.Options) *ipc.Pipe {
	if t.Pipe == nil {
		t.Pipe = ipc.NewPipe(-1, options)
	}
	return t.Pipe
}
