package kcall

import (
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/logging"
)

// Syscalls is the kernel-core side of the syscall boundary: it wraps
// a kernel.ProcessManager and dispatches the operations spec.md §4.5
// numbers. Handlers that only touch process/thread-table state take
// the calling thread's id explicitly, since this port has no real trap
// frame to read a "current thread" register out of; handlers that
// suspend the calling job (ThreadSleep, ThreadYield, ThreadExit) take
// a *uthread.JobContext instead, since suspending "some other thread"
// isn't meaningful — only the job making the call can yield itself.
type Syscalls struct {
	PM      *kernel.ProcessManager
	Metrics *Metrics
	logger  *logging.Logger
}

// New wraps pm as a syscall dispatcher.
func New(pm *kernel.ProcessManager) *Syscalls {
	return &Syscalls{PM: pm, Metrics: NewMetrics(), logger: logging.Default()}
}

// SetLogger replaces the dispatcher's logger.
func (s *Syscalls) SetLogger(logger *logging.Logger) {
	s.logger = logger
}
