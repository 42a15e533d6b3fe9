package kcall

import (
	"sync/atomic"
	"time"
)

// latencyBuckets defines the dispatch-latency histogram buckets in
// nanoseconds, the same logarithmic spacing the teacher used for I/O
// read/write latency, reused here for syscall dispatch latency.
var latencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks syscall dispatch counters and latency, generalizing
// the teacher's per-operation-kind I/O counters (read/write/discard/
// flush) to per-subsystem syscall counters.
type Metrics struct {
	ProcessCalls      atomic.Uint64
	ThreadCalls       atomic.Uint64
	MemoryCalls       atomic.Uint64
	FileMappingCalls  atomic.Uint64
	IPCCalls          atomic.Uint64
	SharedObjectCalls atomic.Uint64
	OtherCalls        atomic.Uint64

	DispatchErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a new dispatch metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Record accounts one Dispatch call: which subsystem opcode belongs
// to, how long the call took, and whether it returned an error.
func (m *Metrics) Record(opcode Opcode, latencyNs uint64, err error) {
	switch {
	case opcode >= OpProcessSpawn && opcode <= OpProcessRaise:
		m.ProcessCalls.Add(1)
	case opcode >= OpThreadCreate && opcode <= OpThreadGetCurrentName:
		m.ThreadCalls.Add(1)
	case opcode >= OpMemAllocate && opcode <= OpMemQuery:
		m.MemoryCalls.Add(1)
	case opcode >= OpFileMappingCreate && opcode <= OpFileMappingDestroy:
		m.FileMappingCalls.Add(1)
	case opcode >= OpPipeOpen && opcode <= OpRPCRespond:
		m.IPCCalls.Add(1)
	case opcode >= OpSOLoad && opcode <= OpSOUnload:
		m.SharedObjectCalls.Add(1)
	default:
		m.OtherCalls.Add(1)
	}

	if err != nil {
		m.DispatchErrors.Add(1)
	}

	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range latencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// MetricsSnapshot is a point-in-time readout of Metrics, the syscall
// analogue of the teacher's I/O MetricsSnapshot.
type MetricsSnapshot struct {
	ProcessCalls      uint64
	ThreadCalls       uint64
	MemoryCalls       uint64
	FileMappingCalls  uint64
	IPCCalls          uint64
	SharedObjectCalls uint64
	OtherCalls        uint64
	TotalCalls        uint64

	DispatchErrors uint64
	ErrorRate      float64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ProcessCalls:      m.ProcessCalls.Load(),
		ThreadCalls:       m.ThreadCalls.Load(),
		MemoryCalls:       m.MemoryCalls.Load(),
		FileMappingCalls:  m.FileMappingCalls.Load(),
		IPCCalls:          m.IPCCalls.Load(),
		SharedObjectCalls: m.SharedObjectCalls.Load(),
		OtherCalls:        m.OtherCalls.Load(),
		DispatchErrors:    m.DispatchErrors.Load(),
	}
	snap.TotalCalls = snap.ProcessCalls + snap.ThreadCalls + snap.MemoryCalls +
		snap.FileMappingCalls + snap.IPCCalls + snap.SharedObjectCalls + snap.OtherCalls

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}
	if snap.TotalCalls > 0 {
		snap.ErrorRate = float64(snap.DispatchErrors) / float64(snap.TotalCalls) * 100.0
	}
	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}
