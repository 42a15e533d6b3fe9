package uthread

import "time"

// JobContext is the handle a job's entry function uses to cooperate
// with the scheduler: yield, sleep, exit early, or look up its own
// job. It is the only thing a running job needs to suspend itself.
type JobContext struct {
	job   *Job
	sched *Scheduler
}

// Self returns the Job this context belongs to.
func (c *JobContext) Self() *Job { return c.job }

// Yield suspends the current job, letting its execution unit run the
// next ready job, then resumes once this job is scheduled again. A
// job still Created or Running when it yields is pushed back to the
// tail of the ready queue; a job already Finishing (via Exit) is not
// re-queued.
func (c *JobContext) Yield() {
	j := c.job
	state := j.getState()
	if state != Finishing {
		j.setState(Running)
	}
	j.yielded <- struct{}{}
	<-j.resume
}

// block suspends the current job without re-queueing it. Callers
// (Mutex.Lock, Cond.Wait, Sleep) are responsible for arranging some
// other event — an unlock, a notify, a timer — that calls
// Scheduler.requeue on this job later.
func (c *JobContext) block() {
	c.job.setState(Blocked)
	c.job.yielded <- struct{}{}
	<-c.job.resume
}

// Sleep suspends the current job for at least d, then re-queues it.
// job_sleep in the spec; like job_yield it is a suspension point, not
// a busy wait, so other ready jobs run on this execution unit while
// the job sleeps.
func (c *JobContext) Sleep(d time.Duration) {
	job := c.job
	sched := c.sched
	time.AfterFunc(d, func() {
		sched.requeue(job)
	})
	c.block()
}

// Exit ends the current job immediately with the given exit code.
// Exit panics with jobExit, which the job's goroutine wrapper in
// JobQueue recovers before marking the job Finishing, so deferred
// finalizers registered by the entry function still run, matching
// job_exit's "runs per-thread destructors; yields" contract.
func (c *JobContext) Exit(code int) {
	panic(jobExit{code: code})
}

// jobExit is recovered by the goroutine wrapper that runs a job's
// entry function, turning Exit into an early return without requiring
// every entry function to check a "should I stop" flag itself.
type jobExit struct{ code int }
