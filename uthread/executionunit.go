package uthread

import (
	"runtime"

	"github.com/mollenos/mollenkit/logging"
	"golang.org/x/sys/unix"
)

// ExecutionUnit is a goroutine standing in for one of the spec's
// kernel threads: it repeatedly pulls the next ready job, hands it
// control by signalling its resume channel, and waits for the job to
// yield, block, or finish before pulling the next one. This is the
// one-goroutine-per-unit pull loop generalized from "pull I/O requests
// off a ring" to "pull jobs off a ready queue".
type ExecutionUnit struct {
	id    int
	queue *ReadyQueue
	stop  chan struct{}
}

func newExecutionUnit(id int, queue *ReadyQueue) *ExecutionUnit {
	return &ExecutionUnit{id: id, queue: queue, stop: make(chan struct{})}
}

// pinToCPU locks the unit's goroutine to its OS thread and assigns it
// a CPU round-robin by unit id, the same "one execution context, one
// CPU" affinity the teacher's queue runner sets per queue. Failure to
// set affinity is logged, not fatal: the unit keeps running unpinned.
func (u *ExecutionUnit) pinToCPU(logger *logging.Logger) {
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(u.id % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		logger.Warn("execution unit failed to set CPU affinity", "unit", u.id, "error", err)
	}
}

// run is the unit's pull loop. It returns when the ready queue is
// closed or Stop is called.
func (u *ExecutionUnit) run(logger *logging.Logger) {
	u.pinToCPU(logger)
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-u.stop:
			return
		default:
		}

		job := u.queue.Pop()
		if job == nil {
			return
		}

		job.resume <- struct{}{}
		<-job.yielded

		if job.getState() == Created || job.getState() == Running {
			job.setState(Created)
			u.queue.Push(job)
		}
		// Blocked jobs are left off the queue; whatever blocked them
		// (Mutex, Cond, Sleep) is responsible for requeueing later.
		// Finishing jobs are simply not requeued.
	}
}

// Stop asks the unit to exit its pull loop once its current job (if
// any) yields or finishes.
func (u *ExecutionUnit) Stop() {
	close(u.stop)
}
