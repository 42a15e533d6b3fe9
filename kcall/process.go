package kcall

import (
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/mstr"
)

// ProcessSpawn implements process_spawn.
func (s *Syscalls) ProcessSpawn(path *mstr.String, startup kernel.StartupInfo, async bool) (kernel.ID, error) {
	return s.PM.Spawn("", path, startup, async)
}

// ProcessJoin implements process_join: returns (-1, nil) for an
// unknown pid rather than an error, matching the spec's "or -1 if the
// pid is unknown" contract rather than layering an error on top of it.
func (s *Syscalls) ProcessJoin(pid kernel.ID) int {
	code, err := s.PM.Join(pid)
	if err != nil {
		return -1
	}
	return code
}

// ProcessKill implements process_kill.
func (s *Syscalls) ProcessKill(pid kernel.ID) error {
	return s.PM.Kill(pid)
}

// ProcessExit implements process_exit.
func (s *Syscalls) ProcessExit(pid kernel.ID, code int) error {
	return s.PM.Exit(pid, code)
}

// ProcessGetCurrentID implements process_get_current_id.
func (s *Syscalls) ProcessGetCurrentID(pid kernel.ID) kernel.ID {
	return s.PM.GetCurrentID(pid)
}

// ProcessGetStartupInformation implements process_get_startup_information.
func (s *Syscalls) ProcessGetStartupInformation(pid kernel.ID) (kernel.StartupInfo, error) {
	return s.PM.GetStartupInformation(pid)
}

// ProcessRaise implements process_raise.
func (s *Syscalls) ProcessRaise(pid kernel.ID, signal int) error {
	return s.PM.Raise(pid, signal)
}
