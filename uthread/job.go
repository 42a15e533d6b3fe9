// Package uthread implements the cooperative, N-job-on-M-thread
// user-space scheduler: jobs (fibers) are multiplexed over execution
// units (goroutines standing in for kernel threads), with a
// process-global ready queue as the sole synchronization point
// between units, plus job-aware mutex/condvar/timer primitives that
// park a blocked job instead of blocking its execution unit.
package uthread

import "sync"

// ID identifies a Job for the lifetime of the scheduler that created it.
type ID uint32

// State mirrors the spec's job state machine: a job moves
// Created -> Running <-> Blocked -> Finishing. A job that yields is
// marked Created again while it waits on the ready queue.
type State int

const (
	Created State = iota
	Running
	Blocked
	Finishing
)

// Params configures a job at creation time.
type Params struct {
	StackSize int
	Detached  bool
	Affinity  int // recorded only; the scheduler does not read it
}

const defaultStackSize = 4096

// Job is a user-space fiber: an entry function running on its own
// goroutine, parked on a channel whenever it isn't the job its
// execution unit currently owns. This stands in for the spec's
// machine-context-swap job, which Go cannot express directly (a
// goroutine's stack isn't addressable or swappable).
type Job struct {
	ID     ID
	Name   string
	Params Params

	mu       sync.Mutex
	state    State
	exitCode int
	waiters  []chan int
	detached bool

	resume  chan struct{}
	yielded chan struct{}

	sched *Scheduler
}

func newJob(id ID, name string, params Params) *Job {
	if params.StackSize < defaultStackSize {
		params.StackSize = defaultStackSize
	}
	j := &Job{
		ID:       id,
		Name:     name,
		Params:   params,
		state:    Created,
		detached: params.Detached,
		resume:   make(chan struct{}),
		yielded:  make(chan struct{}),
	}
	return j
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) getState() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// finish transitions the job to Finishing and wakes every pending
// Join caller with code.
func (j *Job) finish(code int) {
	j.mu.Lock()
	j.state = Finishing
	j.exitCode = code
	waiters := j.waiters
	j.waiters = nil
	j.mu.Unlock()
	for _, w := range waiters {
		w <- code
		close(w)
	}
}

// Join blocks until the job reaches Finishing and returns its exit
// code. Joining a detached job is not supported, matching job_detach's
// contract that a detached job's result is no longer observable.
func (j *Job) Join() (int, bool) {
	j.mu.Lock()
	if j.detached {
		j.mu.Unlock()
		return 0, false
	}
	if j.state == Finishing {
		code := j.exitCode
		j.mu.Unlock()
		return code, true
	}
	ch := make(chan int, 1)
	j.waiters = append(j.waiters, ch)
	j.mu.Unlock()
	code := <-ch
	return code, true
}

// Detach marks the job so no further Join calls will observe its exit
// code; this port's goroutine-per-job model has no "running elsewhere"
// case to signal (unlike the spec's pinned-execution-unit original),
// since Detach only ever affects Join visibility here.
func (j *Job) Detach() {
	j.mu.Lock()
	j.detached = true
	j.mu.Unlock()
}

func (j *Job) State() State { return j.getState() }
