package kernel

import (
	"sync"
	"time"

	"github.com/mollenos/mollenkit/ipc"
	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/peload"
	"github.com/mollenos/mollenkit/uthread"
	"github.com/mollenos/mollenkit/vmm"
)

// FileMapping records one file-backed region mapped into a process's
// address space via FileMappingCreate.
type FileMapping struct {
	ID     ID
	Path   *mstr.String
	Base   uint64
	Length uint64
	Flags  int
}

// StartupInfo carries the argument/environment/inheritance bundle a
// spawned process starts with, mirroring spec.md's process creation
// contract.
type StartupInfo struct {
	Arguments   []string
	Environment map[string]string
	InheritSet  []ID
}

// Process is the kernel's "Ash": the unit LoadImage populates, the
// scheduler schedules threads for, and kcall's process/thread syscalls
// operate on.
type Process struct {
	ID     ID
	Name   string
	Space  *vmm.AddressSpace
	Image  *peload.Image
	Pipes  ipc.PortTable
	Parent ID

	WorkingDir *mstr.String
	BaseDir    *mstr.String
	FullPath   *mstr.String
	Startup    StartupInfo

	SignalHandler uintptr
	ExitCode      int
	exited        bool
	doneCh        chan struct{}
	doneOnce      sync.Once

	PrimaryThread ID
	PendingSignal []int
	signalMu      sync.Mutex

	HeapBitmap      *Bitmap
	SharedMemBitmap *Bitmap
	FileMappings    []FileMapping

	// Images holds every shared object so_load has mapped into this
	// process, keyed by the handle returned to the caller. Handle 0 is
	// reserved for the process's own executable image and is never
	// stored here (so_unload is a no-op against it).
	Images        map[ID]*peload.Image
	nextImageID   ID
	protMu        sync.Mutex
	protections   map[uint64]int
}

// NewProcess constructs a Process with a fresh address space rooted at
// base and a ready-to-use pipe table. It does not register the process
// in a ProcessTable; callers do that once the id-bearing object is
// ready to be observed by other threads.
func NewProcess(name string, base uint64, capacity uint64) *Process {
	return &Process{
		Name:            name,
		Space:           vmm.NewAddressSpace(base, capacity),
		Pipes:           make(ipc.PortTable),
		HeapBitmap:      NewBitmap(),
		SharedMemBitmap: NewBitmap(),
		ExitCode:        -1,
		doneCh:          make(chan struct{}),
		Images:          make(map[ID]*peload.Image),
		protections:     make(map[uint64]int),
	}
}

// RegisterImage assigns a handle to a shared object loaded via so_load
// and records it so so_get_function/so_unload can find it again.
func (p *Process) RegisterImage(img *peload.Image) ID {
	p.nextImageID++
	id := p.nextImageID
	p.Images[id] = img
	return id
}

// LookupImage resolves a so_load handle back to its Image. Handle 0
// always refers to the process's own executable.
func (p *Process) LookupImage(handle ID) (*peload.Image, bool) {
	if handle == 0 {
		return p.Image, p.Image != nil
	}
	img, ok := p.Images[handle]
	return img, ok
}

// UnregisterImage drops handle from the table; so_unload calls this
// after peload.UnloadLibrary has torn the image down.
func (p *Process) UnregisterImage(handle ID) {
	delete(p.Images, handle)
}

// SetProtection records the requested page protection for addr,
// bookkeeping only: vmm.AddressSpace is a flat arena and does not
// fault on access, so this does not enforce the protection (see
// DESIGN.md).
func (p *Process) SetProtection(addr uint64, flags int) {
	p.protMu.Lock()
	p.protections[addr] = flags
	p.protMu.Unlock()
}

// GetProtection returns the last protection recorded for addr, if any.
func (p *Process) GetProtection(addr uint64) (int, bool) {
	p.protMu.Lock()
	defer p.protMu.Unlock()
	flags, ok := p.protections[addr]
	return flags, ok
}

// AddressSpace implements peload.Owner.
func (p *Process) AddressSpace() *vmm.AddressSpace { return p.Space }

// NextLoadAddress implements peload.Owner.
func (p *Process) NextLoadAddress() uint64 { return p.Space.NextLoadAddress() }

// Exit marks the process as exited with the given code and wakes every
// ProcessJoin waiter. Safe to call more than once; only the first call
// has an effect.
func (p *Process) Exit(code int) {
	p.doneOnce.Do(func() {
		p.exited = true
		p.ExitCode = code
		close(p.doneCh)
	})
}

func (p *Process) Exited() (bool, int) { return p.exited, p.ExitCode }

// Done returns a channel closed once the process has exited, for
// ProcessManager.Join to block on.
func (p *Process) Done() <-chan struct{} { return p.doneCh }

// RaiseSignal posts a signal for the process's primary thread to
// observe at its next safe point. The redesign guidance treats a
// signal as a posted event pulled by the target, not delivered as an
// asynchronous procedure call, so this only records it.
func (p *Process) RaiseSignal(signal int) {
	p.signalMu.Lock()
	p.PendingSignal = append(p.PendingSignal, signal)
	p.signalMu.Unlock()
}

// PullSignal removes and returns the oldest pending signal, if any.
func (p *Process) PullSignal() (int, bool) {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	if len(p.PendingSignal) == 0 {
		return 0, false
	}
	s := p.PendingSignal[0]
	p.PendingSignal = p.PendingSignal[1:]
	return s, true
}

// Thread is one schedulable unit of execution within a Process.
type Thread struct {
	ID        ID
	ProcessID ID
	Name      *mstr.String
	Pipe      *ipc.Pipe

	// Job is the uthread job backing this thread's execution, set once
	// thread_create (or process_spawn's primary thread) schedules it.
	Job *uthread.Job

	WaitHandle    any
	InterruptedAt time.Time
	sleepUntil    time.Time

	signalMu      sync.Mutex
	PendingSignal []int
}

func NewThread(procID ID) *Thread {
	return &Thread{ProcessID: procID}
}

// RaiseSignal posts a signal for this thread to observe at its next
// safe point (thread_signal's delivery side).
func (t *Thread) RaiseSignal(signal int) {
	t.signalMu.Lock()
	t.PendingSignal = append(t.PendingSignal, signal)
	t.signalMu.Unlock()
}

// PullSignal removes and returns the oldest pending signal, if any.
func (t *Thread) PullSignal() (int, bool) {
	t.signalMu.Lock()
	defer t.signalMu.Unlock()
	if len(t.PendingSignal) == 0 {
		return 0, false
	}
	s := t.PendingSignal[0]
	t.PendingSignal = t.PendingSignal[1:]
	return s, true
}
