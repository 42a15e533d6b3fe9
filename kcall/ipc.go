package kcall

import (
	"github.com/mollenos/mollenkit/ipc"
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/kernelerr"
)

func (s *Syscalls) process(pid kernel.ID) (*kernel.Process, error) {
	proc, ok := s.PM.Processes.Get(pid)
	if !ok {
		return nil, kernelerr.New("kcall", kernelerr.DoesNotExist, "unknown process id")
	}
	return proc, nil
}

// PipeOpen implements pipe_open.
func (s *Syscalls) PipeOpen(pid kernel.ID, port int32, options ipc.Options) error {
	proc, err := s.process(pid)
	if err != nil {
		return err
	}
	_, err = proc.OpenPipe(port, options)
	return err
}

// PipeClose implements pipe_close.
func (s *Syscalls) PipeClose(pid kernel.ID, port int32) error {
	proc, err := s.process(pid)
	if err != nil {
		return err
	}
	proc.ClosePipe(port)
	return nil
}

// PipeRead implements pipe_read.
func (s *Syscalls) PipeRead(pid kernel.ID, port int32, buf []byte, flags ipc.Flags) (int, error) {
	proc, err := s.process(pid)
	if err != nil {
		return 0, err
	}
	return proc.ReadPipe(port, buf, flags)
}

// PipeWrite implements pipe_write.
func (s *Syscalls) PipeWrite(pid kernel.ID, port int32, buf []byte, flags ipc.Flags) (int, error) {
	proc, err := s.process(pid)
	if err != nil {
		return 0, err
	}
	return proc.WritePipe(port, buf, flags)
}

// RPCExecute implements rpc_execute: resolves both endpoints to pipes
// and frames call across the target, matching ipc.Execute's ordering
// and synchronous-reply contract.
func (s *Syscalls) RPCExecute(target, source ipc.Endpoint, call *ipc.RemoteCall, async bool) (*ipc.RemoteCall, error) {
	targetPipe, err := s.PM.ResolveEndpoint(target)
	if err != nil {
		return nil, err
	}
	sourcePipe, err := s.PM.ResolveEndpoint(source)
	if err != nil {
		return nil, err
	}
	return ipc.Execute(targetPipe, sourcePipe, call, async)
}

// RPCListen implements rpc_listen.
func (s *Syscalls) RPCListen(port ipc.Endpoint, argBuf []byte) (*ipc.RemoteCall, error) {
	pipe, err := s.PM.ResolveEndpoint(port)
	if err != nil {
		return nil, err
	}
	return ipc.Listen(pipe, argBuf)
}

// RPCRespond implements rpc_respond.
func (s *Syscalls) RPCRespond(call *ipc.RemoteCall, buf []byte) error {
	return ipc.Respond(s.PM.ResolveEndpoint, call, buf)
}
