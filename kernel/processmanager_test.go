package kernel

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mollenos/mollenkit/mstr"
	"github.com/mollenos/mollenkit/uthread"
)

// buildMinimalPE writes a bare-minimum valid PE32+/AMD64 image with one
// .text section and no relocations/imports/exports: enough for
// peload.LoadImage to succeed when loaded at exactly imageBase, which
// is all ProcessManager.Spawn's tests need.
func buildMinimalPE(imageBase uint64) []byte {
	const sectionRVA = 0x1000
	const fileAlign = 0x200
	const dosHeaderSize = 64
	const dosE_lfanewOff = 0x3C
	const peSignatureSize = 4
	const coffHeaderSize = 20
	const machineAMD64 = 0x8664
	const optHeaderMagicPE32Plus = 0x20B
	const numDataDirectories = 16
	const dataDirectoryEntrySize = 8
	const sectionHeaderSize = 40
	const sectionCharExecute = 0x20000000
	const sectionCharRead = 0x40000000
	const sectionCharWrite = uint32(0x80000000)

	code := make([]byte, 0x200)
	sectionSize := uint32(len(code))
	sectionSizeAligned := (sectionSize + fileAlign - 1) &^ (fileAlign - 1)

	dosHeader := make([]byte, dosHeaderSize)
	dosHeader[0], dosHeader[1] = 'M', 'Z'
	peOff := uint32(dosHeaderSize)
	binary.LittleEndian.PutUint32(dosHeader[dosE_lfanewOff:], peOff)

	coffOff := peOff + peSignatureSize
	optOff := coffOff + coffHeaderSize
	optSize := uint32(112 + numDataDirectories*dataDirectoryEntrySize)
	sectionTableOff := optOff + optSize
	headersEnd := sectionTableOff + 1*sectionHeaderSize
	headersFileSize := (headersEnd + fileAlign - 1) &^ (fileAlign - 1)

	sectionFileOff := headersFileSize
	totalFileSize := sectionFileOff + sectionSizeAligned

	buf := make([]byte, totalFileSize)
	copy(buf, dosHeader)
	copy(buf[peOff:], []byte{'P', 'E', 0, 0})

	binary.LittleEndian.PutUint16(buf[coffOff:], machineAMD64)
	binary.LittleEndian.PutUint16(buf[coffOff+2:], 1)
	binary.LittleEndian.PutUint16(buf[coffOff+16:], uint16(optSize))

	binary.LittleEndian.PutUint16(buf[optOff:], optHeaderMagicPE32Plus)
	binary.LittleEndian.PutUint32(buf[optOff+4:], sectionSizeAligned)
	binary.LittleEndian.PutUint32(buf[optOff+16:], sectionRVA)
	binary.LittleEndian.PutUint32(buf[optOff+20:], sectionRVA)
	binary.LittleEndian.PutUint64(buf[optOff+24:], imageBase)
	binary.LittleEndian.PutUint32(buf[optOff+32:], 0x1000)
	binary.LittleEndian.PutUint32(buf[optOff+36:], fileAlign)
	binary.LittleEndian.PutUint32(buf[optOff+56:], sectionRVA+sectionSizeAligned)
	binary.LittleEndian.PutUint32(buf[optOff+108:], numDataDirectories)

	sh := sectionTableOff
	copy(buf[sh:sh+8], []byte(".text\x00\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sh+8:], sectionSize)
	binary.LittleEndian.PutUint32(buf[sh+12:], sectionRVA)
	binary.LittleEndian.PutUint32(buf[sh+16:], sectionSizeAligned)
	binary.LittleEndian.PutUint32(buf[sh+20:], sectionFileOff)
	binary.LittleEndian.PutUint32(buf[sh+36:], uint32(sectionCharExecute)|uint32(sectionCharRead)|sectionCharWrite)

	copy(buf[sectionFileOff:], code)
	return buf
}

func writeMinimalPE(t *testing.T, imageBase uint64) *mstr.String {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.exe")
	require.NoError(t, os.WriteFile(path, buildMinimalPE(imageBase), 0o644))
	m, err := mstr.NewFromString(path)
	require.NoError(t, err)
	return m
}

func newTestProcessManager() *ProcessManager {
	sched := uthread.NewScheduler(2)
	return NewProcessManager(sched)
}

func TestProcessManagerSpawnLoadsImageSynchronously(t *testing.T) {
	pm := newTestProcessManager()
	path := writeMinimalPE(t, defaultProcessBase)

	pid, err := pm.Spawn("test", path, StartupInfo{}, false)
	require.NoError(t, err)

	proc, ok := pm.Processes.Get(pid)
	require.True(t, ok)
	require.NotNil(t, proc.Image)
	require.Equal(t, defaultProcessBase, proc.Image.Base)
	require.NotZero(t, proc.PrimaryThread)
}

func TestProcessManagerSpawnDeepCopiesStartupInfo(t *testing.T) {
	pm := newTestProcessManager()
	path := writeMinimalPE(t, defaultProcessBase)

	args := []string{"a", "b"}
	env := map[string]string{"K": "V"}
	pid, err := pm.Spawn("test", path, StartupInfo{Arguments: args, Environment: env}, false)
	require.NoError(t, err)

	proc, _ := pm.Processes.Get(pid)
	args[0] = "mutated"
	env["K"] = "mutated"
	require.Equal(t, "a", proc.Startup.Arguments[0])
	require.Equal(t, "V", proc.Startup.Environment["K"])
}

// TestProcessJoinDuringExit mirrors scenario S6: a thread in P1 joins
// P2; a thread inside P2 exits with code 42; the joiner wakes and
// observes 42.
func TestProcessJoinDuringExit(t *testing.T) {
	pm := newTestProcessManager()
	path := writeMinimalPE(t, defaultProcessBase)
	p2, err := pm.Spawn("p2", path, StartupInfo{}, false)
	require.NoError(t, err)

	resultCh := make(chan int, 1)
	go func() {
		code, err := pm.Join(p2)
		require.NoError(t, err)
		resultCh <- code
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pm.Exit(p2, 42))

	select {
	case code := <-resultCh:
		require.Equal(t, 42, code)
	case <-time.After(time.Second):
		t.Fatal("process_join never woke after process_exit")
	}
}

func TestProcessJoinUnknownPidFails(t *testing.T) {
	pm := newTestProcessManager()
	_, err := pm.Join(ID(9999))
	require.Error(t, err)
}

func TestProcessKillTerminatesProcess(t *testing.T) {
	pm := newTestProcessManager()
	path := writeMinimalPE(t, defaultProcessBase)
	pid, err := pm.Spawn("test", path, StartupInfo{}, false)
	require.NoError(t, err)

	require.NoError(t, pm.Kill(pid))
	proc, _ := pm.Processes.Get(pid)
	exited, code := proc.Exited()
	require.True(t, exited)
	require.Equal(t, -1, code)
}

func TestProcessRaisePostsSignal(t *testing.T) {
	pm := newTestProcessManager()
	path := writeMinimalPE(t, defaultProcessBase)
	pid, err := pm.Spawn("test", path, StartupInfo{}, false)
	require.NoError(t, err)

	require.NoError(t, pm.Raise(pid, 9))
	proc, _ := pm.Processes.Get(pid)
	signal, ok := proc.PullSignal()
	require.True(t, ok)
	require.Equal(t, 9, signal)
}
