package kernel

import (
	"github.com/mollenos/mollenkit/kernelerr"
	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/uthread"
)

// CreateThread implements thread_create: it registers a new Thread
// under callerTID's process and schedules entry as a uthread job
// inheriting that process's mode (there is no separate kernel/user
// mode distinction in this port, so "inheriting mode" reduces to
// "inheriting the process association" that ThreadJoin/ThreadSignal's
// same-process checks rely on).
func (pm *ProcessManager) CreateThread(callerTID ID, name string, params uthread.Params, entry func(*uthread.JobContext)) (ID, error) {
	_, proc, err := pm.thread(callerTID)
	if err != nil {
		return 0, kernelerr.Wrap("ThreadCreate", err)
	}

	th := NewThread(proc.ID)
	tid := pm.Threads.Add(th)
	nm, _ := mstr.NewFromString(name)
	th.Name = nm
	th.Job = pm.Scheduler.JobQueue(name, params, entry)
	return tid, nil
}

// JoinThread implements thread_join: cross-process joins are
// rejected, matching the spec's "tid's parent process must equal
// current" rule.
func (pm *ProcessManager) JoinThread(callerTID, targetTID ID) (int, error) {
	caller, _, err := pm.thread(callerTID)
	if err != nil {
		return 0, kernelerr.Wrap("ThreadJoin", err)
	}
	target, _, err := pm.thread(targetTID)
	if err != nil {
		return 0, kernelerr.Wrap("ThreadJoin", err)
	}
	if target.ProcessID != caller.ProcessID {
		return 0, kernelerr.New("ThreadJoin", kernelerr.AccessDenied, "cannot join a thread owned by another process")
	}
	code, _ := target.Job.Join()
	return code, nil
}

// SignalThread implements thread_signal: same-process requirement
// enforced exactly like ThreadJoin.
func (pm *ProcessManager) SignalThread(callerTID, targetTID ID, signal int) error {
	caller, _, err := pm.thread(callerTID)
	if err != nil {
		return kernelerr.Wrap("ThreadSignal", err)
	}
	target, _, err := pm.thread(targetTID)
	if err != nil {
		return kernelerr.Wrap("ThreadSignal", err)
	}
	if target.ProcessID != caller.ProcessID {
		return kernelerr.New("ThreadSignal", kernelerr.AccessDenied, "cannot signal a thread owned by another process")
	}
	target.RaiseSignal(signal)
	return nil
}

// SetThreadName and ThreadName implement thread_set/get_current_name.
func (pm *ProcessManager) SetThreadName(tid ID, name string) error {
	th, _, err := pm.thread(tid)
	if err != nil {
		return kernelerr.Wrap("ThreadSetCurrentName", err)
	}
	nm, err := mstr.NewFromString(name)
	if err != nil {
		return kernelerr.New("ThreadSetCurrentName", kernelerr.InvalidParameters, "name is not valid UTF-8")
	}
	th.Name = nm
	return nil
}

func (pm *ProcessManager) ThreadName(tid ID) (string, error) {
	th, _, err := pm.thread(tid)
	if err != nil {
		return "", kernelerr.Wrap("ThreadGetCurrentName", err)
	}
	if th.Name == nil {
		return "", nil
	}
	return th.Name.String(), nil
}
