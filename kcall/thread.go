package kcall

import (
	"time"

	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/uthread"
)

// ThreadCreate implements thread_create: entry runs on a fresh uthread
// job scheduled the same way any other job is, inheriting callerTID's
// process. The spec's separate "arg" parameter is just entry's closed-
// over state in this port, so callers bind it before passing entry in.
func (s *Syscalls) ThreadCreate(callerTID kernel.ID, name string, flags uthread.Params, entry func(*uthread.JobContext)) (kernel.ID, error) {
	return s.PM.CreateThread(callerTID, name, flags, entry)
}

// ThreadExit implements thread_exit: unwinds the calling job via
// ctx.Exit, never returning.
func (s *Syscalls) ThreadExit(ctx *uthread.JobContext, code int) {
	ctx.Exit(code)
}

// ThreadJoin implements thread_join: cross-process joins are rejected
// by ProcessManager.JoinThread.
func (s *Syscalls) ThreadJoin(callerTID, targetTID kernel.ID) (int, error) {
	return s.PM.JoinThread(callerTID, targetTID)
}

// ThreadSignal implements thread_signal.
func (s *Syscalls) ThreadSignal(callerTID, targetTID kernel.ID, signal int) error {
	return s.PM.SignalThread(callerTID, targetTID, signal)
}

// ThreadSleep implements thread_sleep: returns the actual duration
// slept, in milliseconds, matching the spec's "&ms_slept" out
// parameter contract via a normal return rather than a pointer.
func (s *Syscalls) ThreadSleep(ctx *uthread.JobContext, ms int) int {
	start := time.Now()
	ctx.Sleep(time.Duration(ms) * time.Millisecond)
	return int(time.Since(start).Milliseconds())
}

// ThreadYield implements thread_yield.
func (s *Syscalls) ThreadYield(ctx *uthread.JobContext) {
	ctx.Yield()
}

// ThreadGetCurrentID implements thread_get_current_id: the caller
// already knows its own id (ThreadCreate handed it back), so this is a
// trivial passthrough rather than a table lookup.
func (s *Syscalls) ThreadGetCurrentID(tid kernel.ID) kernel.ID {
	return tid
}

// ThreadSetCurrentName implements thread_set_current_name.
func (s *Syscalls) ThreadSetCurrentName(tid kernel.ID, name string) error {
	return s.PM.SetThreadName(tid, name)
}

// ThreadGetCurrentName implements thread_get_current_name.
func (s *Syscalls) ThreadGetCurrentName(tid kernel.ID) (string, error) {
	return s.PM.ThreadName(tid)
}
