package kcall

import (
	"time"

	"github.com/mollenos/mollenkit/ipc"
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/kernelerr"
	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/uthread"
)

// Handler adapts one opcode's typed arguments, boxed as a slice, to
// its typed implementation on Syscalls. args/results are boxed
// because a single array must hold handlers of otherwise incompatible
// signatures; Dispatch is the only place that needs to know this.
type Handler func(s *Syscalls, args []any) (any, error)

// Entry names one Table slot.
type Entry struct {
	Name string
	Fn   Handler
}

func noop(name string) Handler {
	return func(s *Syscalls, args []any) (any, error) {
		return nil, kernelerr.New(name, kernelerr.NotSupported, "unused syscall slot")
	}
}

// Table is the fixed-size syscall dispatch array: Table[opcode] names
// and invokes the handler for that syscall number. Unused slots are a
// named no-op rather than a zero Entry, so Dispatch never needs a nil
// check.
var Table [NumOpcodes]Entry

func init() {
	for i := range Table {
		Table[i] = Entry{Name: "reserved", Fn: noop("reserved")}
	}

	Table[OpProcessSpawn] = Entry{"process_spawn", func(s *Syscalls, a []any) (any, error) {
		pid, err := s.ProcessSpawn(a[0].(*mstr.String), a[1].(kernel.StartupInfo), a[2].(bool))
		return pid, err
	}}
	Table[OpProcessJoin] = Entry{"process_join", func(s *Syscalls, a []any) (any, error) {
		return s.ProcessJoin(a[0].(kernel.ID)), nil
	}}
	Table[OpProcessKill] = Entry{"process_kill", func(s *Syscalls, a []any) (any, error) {
		return nil, s.ProcessKill(a[0].(kernel.ID))
	}}
	Table[OpProcessExit] = Entry{"process_exit", func(s *Syscalls, a []any) (any, error) {
		return nil, s.ProcessExit(a[0].(kernel.ID), a[1].(int))
	}}
	Table[OpProcessGetCurrentID] = Entry{"process_get_current_id", func(s *Syscalls, a []any) (any, error) {
		return s.ProcessGetCurrentID(a[0].(kernel.ID)), nil
	}}
	Table[OpProcessGetStartupInformation] = Entry{"process_get_startup_information", func(s *Syscalls, a []any) (any, error) {
		return s.ProcessGetStartupInformation(a[0].(kernel.ID))
	}}
	Table[OpProcessRaise] = Entry{"process_raise", func(s *Syscalls, a []any) (any, error) {
		return nil, s.ProcessRaise(a[0].(kernel.ID), a[1].(int))
	}}

	Table[OpThreadCreate] = Entry{"thread_create", func(s *Syscalls, a []any) (any, error) {
		return s.ThreadCreate(a[0].(kernel.ID), a[1].(string), a[2].(uthread.Params), a[3].(func(*uthread.JobContext)))
	}}
	Table[OpThreadExit] = Entry{"thread_exit", func(s *Syscalls, a []any) (any, error) {
		s.ThreadExit(a[0].(*uthread.JobContext), a[1].(int))
		return nil, nil
	}}
	Table[OpThreadSleep] = Entry{"thread_sleep", func(s *Syscalls, a []any) (any, error) {
		return s.ThreadSleep(a[0].(*uthread.JobContext), a[1].(int)), nil
	}}
	Table[OpThreadYield] = Entry{"thread_yield", func(s *Syscalls, a []any) (any, error) {
		s.ThreadYield(a[0].(*uthread.JobContext))
		return nil, nil
	}}
	Table[OpThreadJoin] = Entry{"thread_join", func(s *Syscalls, a []any) (any, error) {
		return s.ThreadJoin(a[0].(kernel.ID), a[1].(kernel.ID))
	}}
	Table[OpThreadSignal] = Entry{"thread_signal", func(s *Syscalls, a []any) (any, error) {
		return nil, s.ThreadSignal(a[0].(kernel.ID), a[1].(kernel.ID), a[2].(int))
	}}
	Table[OpThreadGetCurrentID] = Entry{"thread_get_current_id", func(s *Syscalls, a []any) (any, error) {
		return s.ThreadGetCurrentID(a[0].(kernel.ID)), nil
	}}
	Table[OpThreadSetCurrentName] = Entry{"thread_set_current_name", func(s *Syscalls, a []any) (any, error) {
		return nil, s.ThreadSetCurrentName(a[0].(kernel.ID), a[1].(string))
	}}
	Table[OpThreadGetCurrentName] = Entry{"thread_get_current_name", func(s *Syscalls, a []any) (any, error) {
		return s.ThreadGetCurrentName(a[0].(kernel.ID))
	}}

	Table[OpMemAllocate] = Entry{"mem_allocate", func(s *Syscalls, a []any) (any, error) {
		virt, phys, err := s.MemAllocate(a[0].(kernel.ID), a[1].(uint64), a[2].(kernel.MemFlag))
		return [2]uint64{virt, phys}, err
	}}
	Table[OpMemFree] = Entry{"mem_free", func(s *Syscalls, a []any) (any, error) {
		return nil, s.MemFree(a[0].(kernel.ID), a[1].(uint64), a[2].(uint64))
	}}
	Table[OpMemAcquire] = Entry{"mem_acquire", func(s *Syscalls, a []any) (any, error) {
		return s.MemAcquire(a[0].(kernel.ID), a[1].(uint64), a[2].(uint64))
	}}
	Table[OpMemRelease] = Entry{"mem_release", func(s *Syscalls, a []any) (any, error) {
		return nil, s.MemRelease(a[0].(kernel.ID), a[1].(uint64), a[2].(uint64))
	}}
	Table[OpMemProtect] = Entry{"mem_protect", func(s *Syscalls, a []any) (any, error) {
		return nil, s.MemProtect(a[0].(kernel.ID), a[1].(uint64), a[2].(int))
	}}
	Table[OpMemQuery] = Entry{"mem_query", func(s *Syscalls, a []any) (any, error) {
		return s.MemQuery(a[0].(kernel.ID))
	}}

	Table[OpFileMappingCreate] = Entry{"file_mapping_create", func(s *Syscalls, a []any) (any, error) {
		return s.FileMappingCreate(a[0].(kernel.ID), a[1].(*mstr.String), a[2].(uint64), a[3].(int))
	}}
	Table[OpFileMappingDestroy] = Entry{"file_mapping_destroy", func(s *Syscalls, a []any) (any, error) {
		return nil, s.FileMappingDestroy(a[0].(kernel.ID), a[1].(kernel.ID))
	}}

	Table[OpPipeOpen] = Entry{"pipe_open", func(s *Syscalls, a []any) (any, error) {
		return nil, s.PipeOpen(a[0].(kernel.ID), a[1].(int32), a[2].(ipc.Options))
	}}
	Table[OpPipeClose] = Entry{"pipe_close", func(s *Syscalls, a []any) (any, error) {
		return nil, s.PipeClose(a[0].(kernel.ID), a[1].(int32))
	}}
	Table[OpPipeRead] = Entry{"pipe_read", func(s *Syscalls, a []any) (any, error) {
		return s.PipeRead(a[0].(kernel.ID), a[1].(int32), a[2].([]byte), a[3].(ipc.Flags))
	}}
	Table[OpPipeWrite] = Entry{"pipe_write", func(s *Syscalls, a []any) (any, error) {
		return s.PipeWrite(a[0].(kernel.ID), a[1].(int32), a[2].([]byte), a[3].(ipc.Flags))
	}}
	Table[OpRPCExecute] = Entry{"rpc_execute", func(s *Syscalls, a []any) (any, error) {
		return s.RPCExecute(a[0].(ipc.Endpoint), a[1].(ipc.Endpoint), a[2].(*ipc.RemoteCall), a[3].(bool))
	}}
	Table[OpRPCListen] = Entry{"rpc_listen", func(s *Syscalls, a []any) (any, error) {
		return s.RPCListen(a[0].(ipc.Endpoint), a[1].([]byte))
	}}
	Table[OpRPCRespond] = Entry{"rpc_respond", func(s *Syscalls, a []any) (any, error) {
		return nil, s.RPCRespond(a[0].(*ipc.RemoteCall), a[1].([]byte))
	}}

	Table[OpSOLoad] = Entry{"so_load", func(s *Syscalls, a []any) (any, error) {
		return s.SOLoad(a[0].(kernel.ID), a[1].(*mstr.String))
	}}
	Table[OpSOGetFunction] = Entry{"so_get_function", func(s *Syscalls, a []any) (any, error) {
		return s.SOGetFunction(a[0].(kernel.ID), a[1].(kernel.ID), a[2].(string))
	}}
	Table[OpSOUnload] = Entry{"so_unload", func(s *Syscalls, a []any) (any, error) {
		return nil, s.SOUnload(a[0].(kernel.ID), a[1].(kernel.ID))
	}}
}

// Dispatch invokes the handler registered for opcode, recording its
// latency and outcome in s.Metrics the way the teacher's backend
// recorded every I/O operation it served.
func (s *Syscalls) Dispatch(opcode Opcode, args ...any) (any, error) {
	if int(opcode) < 0 || int(opcode) >= NumOpcodes {
		return nil, kernelerr.New("Dispatch", kernelerr.InvalidParameters, "syscall number out of range")
	}
	name := Table[opcode].Name
	s.logger.Debug("dispatch", "syscall", name, "opcode", int(opcode))
	start := time.Now()
	result, err := Table[opcode].Fn(s, args)
	s.Metrics.Record(opcode, uint64(time.Since(start).Nanoseconds()), err)
	if err != nil {
		s.logger.Warn("dispatch failed", "syscall", name, "error", err)
	}
	return result, err
}
