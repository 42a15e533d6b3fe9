// Package kcall is the syscall surface: a fixed-size table mapping a
// small integer syscall number to a handler, mirroring the grouped
// numbering scheme spec.md §4.5 describes. Each handler is also
// exposed as an ordinary typed method on Syscalls for in-process
// callers (tests, cmd/mollenctl) that don't need to go through the
// table; Table itself exists so numbered dispatch — the thing a real
// syscall trap would do — has a concrete, testable home.
package kcall

// Opcode is the syscall number used to index Table.
type Opcode int

// NumOpcodes is the size of the fixed dispatch table. The grouping
// below reserves a contiguous range per subsystem even though several
// ranges are only partially populated, matching the spec's own
// "unused slots route to a no-op" rule.
const NumOpcodes = 111

const (
	OpDebug Opcode = 0

	// Process/thread: 1-30.
	OpProcessSpawn                 Opcode = 1
	OpProcessJoin                  Opcode = 2
	OpProcessKill                  Opcode = 3
	OpProcessExit                  Opcode = 4
	OpProcessGetCurrentID          Opcode = 5
	OpProcessGetStartupInformation Opcode = 6
	OpProcessRaise                 Opcode = 7
	OpThreadCreate                 Opcode = 8
	OpThreadExit                   Opcode = 9
	OpThreadJoin                   Opcode = 10
	OpThreadSignal                 Opcode = 11
	OpThreadSleep                  Opcode = 12
	OpThreadYield                  Opcode = 13
	OpThreadGetCurrentID           Opcode = 14
	OpThreadSetCurrentName         Opcode = 15
	OpThreadGetCurrentName         Opcode = 16

	// Synchronization: 31-40. uthread's Mutex/Cond are reached by jobs
	// sharing process memory directly rather than through a syscall in
	// this port (a job never crosses the process boundary to lock
	// another process's mutex), so this range stays reserved-but-empty;
	// see DESIGN.md.

	// Memory: 41-50.
	OpMemAllocate Opcode = 41
	OpMemFree     Opcode = 42
	OpMemAcquire  Opcode = 43
	OpMemRelease  Opcode = 44
	OpMemProtect  Opcode = 45
	OpMemQuery    Opcode = 46

	// Path/file-mapping: 51-60.
	OpFileMappingCreate  Opcode = 51
	OpFileMappingDestroy Opcode = 52

	// IPC: 61-70.
	OpPipeOpen   Opcode = 61
	OpPipeClose  Opcode = 62
	OpPipeRead   Opcode = 63
	OpPipeWrite  Opcode = 64
	OpRPCExecute Opcode = 65
	OpRPCListen  Opcode = 66
	OpRPCRespond Opcode = 67

	// System: 71-80. ACPI: 81-90. I/O space: 91-94. No component in
	// this port models ACPI tables or port I/O, so these stay no-op.

	// Misc driver: 95-100. Shared objects land here: the spec's
	// grouping list has no dedicated "shared objects" range, and
	// so_load/so_get_function/so_unload are themselves driver-loading
	// primitives, so this is the closest named bucket.
	OpSOLoad        Opcode = 95
	OpSOGetFunction Opcode = 96
	OpSOUnload      Opcode = 97

	// Interrupts/timers: 101+. No interrupt controller or hardware
	// timer exists in this port, so this range also stays no-op.
)
