package uthread

import (
	"sync"
	"time"
)

// Status is the outcome of a timed or possibly-contended primitive.
type Status int

const (
	OK Status = iota
	Busy
	TimedOut
)

// waitTicket lets a timer and a wake (Unlock/Signal/Broadcast) race for
// the same waiting job without double-requeueing it: whichever side
// calls fire first wins, the other is a no-op.
type waitTicket struct {
	mu     sync.Mutex
	fired  bool
	status Status
	job    *Job
}

func (t *waitTicket) fire(status Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.fired = true
	t.status = status
	return true
}

// Mutex is the job-aware lock the spec describes: contention parks the
// job (Blocked, off the ready queue) rather than blocking its
// execution unit, and unlock hands ownership directly to the head
// waiter instead of waking everyone to re-race for it.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []*waitTicket
}

func NewMutex() *Mutex { return &Mutex{} }

// Lock acquires m, blocking the current job if it's already held.
func (m *Mutex) Lock(ctx *JobContext) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return
	}
	t := &waitTicket{job: ctx.job}
	m.waiters = append(m.waiters, t)
	m.mu.Unlock()
	ctx.block()
}

// TryLock attempts to acquire m without blocking, returning Busy if it
// is already held.
func (m *Mutex) TryLock() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return Busy
	}
	m.locked = true
	return OK
}

// TimedLock acquires m, giving up with TimedOut if it isn't granted
// within d. timed_lock in the spec: a timer races the eventual
// unlock->wake, whichever fires first wins.
func (m *Mutex) TimedLock(ctx *JobContext, d time.Duration) Status {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return OK
	}
	t := &waitTicket{job: ctx.job}
	m.waiters = append(m.waiters, t)
	m.mu.Unlock()

	timer := time.AfterFunc(d, func() {
		if t.fire(TimedOut) {
			ctx.sched.requeue(t.job)
		}
	})
	ctx.block()
	timer.Stop()
	return t.status
}

// Unlock releases m. If a job is waiting, ownership transfers directly
// to it and it is requeued; m stays "locked" the whole time, so no
// third job can steal it between the release and the wake. Waiters
// already claimed by a TimedLock timeout are skipped.
func (m *Mutex) Unlock(sched *Scheduler) {
	m.mu.Lock()
	for len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		if next.fire(OK) {
			m.mu.Unlock()
			sched.requeue(next.job)
			return
		}
	}
	m.locked = false
	m.mu.Unlock()
}

// Cond is a condition variable parked jobs wait on, paired with a
// Mutex the caller holds across Wait.
type Cond struct {
	mu      sync.Mutex
	waiters []*waitTicket
}

func NewCond() *Cond { return &Cond{} }

// Wait releases m, suspends the current job until Signal or Broadcast
// wakes it, then reacquires m before returning, matching the standard
// condvar contract.
func (c *Cond) Wait(ctx *JobContext, m *Mutex) {
	t := &waitTicket{job: ctx.job}
	c.mu.Lock()
	c.waiters = append(c.waiters, t)
	c.mu.Unlock()

	m.Unlock(ctx.sched)
	ctx.block()
	m.Lock(ctx)
}

// TimedWait is Wait with a deadline: if neither Signal nor Broadcast
// reaches this job within d, it is re-readied with TimedOut and mtx
// reacquired before returning, exactly as job_yield's timer handler
// races timed_wait in the spec.
func (c *Cond) TimedWait(ctx *JobContext, m *Mutex, d time.Duration) Status {
	t := &waitTicket{job: ctx.job}
	c.mu.Lock()
	c.waiters = append(c.waiters, t)
	c.mu.Unlock()

	timer := time.AfterFunc(d, func() {
		if t.fire(TimedOut) {
			ctx.sched.requeue(t.job)
		}
	})

	m.Unlock(ctx.sched)
	ctx.block()
	timer.Stop()
	m.Lock(ctx)
	return t.status
}

// Signal wakes the longest-waiting job not already claimed by a timeout.
func (c *Cond) Signal(sched *Scheduler) {
	c.mu.Lock()
	for len(c.waiters) > 0 {
		t := c.waiters[0]
		c.waiters = c.waiters[1:]
		if t.fire(OK) {
			c.mu.Unlock()
			sched.requeue(t.job)
			return
		}
	}
	c.mu.Unlock()
}

// Broadcast wakes every waiting job not already claimed by a timeout,
// in FIFO wait order.
func (c *Cond) Broadcast(sched *Scheduler) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, t := range waiters {
		if t.fire(OK) {
			sched.requeue(t.job)
		}
	}
}
