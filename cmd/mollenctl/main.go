// Command mollenctl is a small operator CLI over the kernel core: it
// drives the PE loader and the syscall dispatch table directly,
// standing in for the debug console a real MollenOS boots to. It is a
// debugging aid in the same spirit as the teacher's single-purpose
// cmd/ublk-mem binary, generalized to cobra subcommands since this
// kernel core exposes more than one operation worth driving from a
// shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mollenos/mollenkit/kcall"
	"github.com/mollenos/mollenkit/kernel"
	"github.com/mollenos/mollenkit/logging"
	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/peload"
	"github.com/mollenos/mollenkit/uthread"
)

const (
	loaderProcessBase     = 0x10000000
	loaderAddressSpaceCap = 64 * 1024 * 1024
)

func main() {
	root := &cobra.Command{
		Use:   "mollenctl",
		Short: "Operator console for the kernel core",
		Long: `mollenctl drives the kernel core's PE loader and syscall dispatch
table directly from a shell, without a real CPU or trap frame behind it.`,
	}

	root.AddCommand(newLoadCommand())
	root.AddCommand(newSpawnCommand())

	if err := root.Execute(); err != nil {
		logging.Error("mollenctl", "error", err)
		os.Exit(1)
	}
}

func newLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load a PE image standalone and print its layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args[0])
		},
	}
}

func runLoad(path string) error {
	owner := kernel.NewProcess("loader", loaderProcessBase, loaderAddressSpaceCap)
	p, err := mstr.NewFromString(path)
	if err != nil {
		return fmt.Errorf("path is not valid UTF-8: %w", err)
	}

	img, err := peload.LoadImage(owner, nil, p, peload.NewRegistry())
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	fmt.Printf("image:        %s\n", img.Name)
	fmt.Printf("architecture: %v\n", img.Arch)
	fmt.Printf("base:         0x%x\n", img.Base)
	fmt.Printf("code:         0x%x (%d bytes)\n", img.CodeBase, img.CodeSize)
	fmt.Printf("entry rva:    0x%x\n", img.EntryRVA)
	fmt.Printf("exports:      %d\n", len(img.Exports))
	fmt.Println("imports:")
	printImportClosure(img, 1)
	return nil
}

func printImportClosure(img *peload.Image, depth int) {
	for _, child := range img.Children {
		fmt.Printf("%s%s (refs=%d)\n", indent(depth), child.Name, child.RefCount())
		printImportClosure(child, depth+1)
	}
}

func indent(depth int) string {
	buf := make([]byte, depth*2)
	for i := range buf {
		buf[i] = ' '
	}
	return string(buf)
}

func newSpawnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn <path> [args...]",
		Short: "Spawn a process through the kernel core and report its outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpawn(args[0], args[1:])
		},
	}
}

// runSpawn drives process_spawn/process_exit/process_join through
// kcall.Dispatch against an in-process kernel harness, the same one
// kcall_test.go exercises: there is no real CPU behind this port's
// scheduler, so a spawned process's primary thread never actually runs
// the loaded image's entry point. mollenctl exits it itself immediately
// after the load completes, purely to show the spawn/join/metrics path
// end to end.
func runSpawn(path string, args []string) error {
	sched := uthread.NewScheduler(2)
	pm := kernel.NewProcessManager(sched)
	s := kcall.New(pm)

	p, err := mstr.NewFromString(path)
	if err != nil {
		return fmt.Errorf("path is not valid UTF-8: %w", err)
	}

	startup := kernel.StartupInfo{Arguments: args}
	result, err := s.Dispatch(kcall.OpProcessSpawn, p, startup, false)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", path, err)
	}
	pid := result.(kernel.ID)
	fmt.Printf("spawned pid: %d\n", pid)

	if _, err := s.Dispatch(kcall.OpProcessExit, pid, 0); err != nil {
		return fmt.Errorf("exit pid %d: %w", pid, err)
	}
	code, _ := s.Dispatch(kcall.OpProcessJoin, pid)
	fmt.Printf("exit code:   %d\n", code)

	snap := s.Metrics.Snapshot()
	fmt.Printf("dispatch calls: process=%d thread=%d memory=%d filemapping=%d ipc=%d so=%d\n",
		snap.ProcessCalls, snap.ThreadCalls, snap.MemoryCalls, snap.FileMappingCalls, snap.IPCCalls, snap.SharedObjectCalls)
	fmt.Printf("dispatch errors: %d (%.1f%%)\n", snap.DispatchErrors, snap.ErrorRate)
	return nil
}
