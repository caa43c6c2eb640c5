// Package tracecap models the kernel-side tracing facility the adapter
// depends on: an opaque capability that registers a set of tracee ids and
// a set of observed syscall numbers, and publishes cumulative counters.
// The real facility (ptrace/eBPF accounting) is out of this module's scope
// per the spec; Capability is the narrow contract the adapter needs, and
// SimCapability is an in-process reference implementation used by tests
// and the demo workload in place of a kernel tracer.
//
// Grounded on original_source/dynamic_traceset/lib_traceset/traceset.{c,h}:
// register_traceset / register_traceset_target / deregister_traceset_target
// / deregister_traceset, and the shared layout (target_count, read_bytes,
// write_bytes, then a (count, total_time) array per syscall number).
package tracecap

import (
	"errors"
	"sync"
)

// ErrRegistrationFailed is returned by Register when the capability cannot
// be acquired (the TraceUnavailable error kind in spec §7).
var ErrRegistrationFailed = errors.New("tracecap: registration failed")

// SyscallCounter is the per-syscall portion of a Snapshot, parallel to the
// caller-supplied syscall-number list.
type SyscallCounter struct {
	Count     uint32
	TotalTime uint64 // accumulated time, nanoseconds
}

// Snapshot is the cumulative counter set published by the capability at a
// point in time. All fields are monotonically non-decreasing for as long
// as a tracee remains registered; removing a tracee retains its
// contribution so interval diffs stay non-negative.
type Snapshot struct {
	TargetCount uint32
	ReadBytes   uint64
	WriteBytes  uint64
	Syscalls    []SyscallCounter // parallel to the registered syscall-number list
}

// Sub returns the element-wise difference s - other. Both snapshots must
// have the same length Syscalls slice (same registered syscall list).
func (s Snapshot) Sub(other Snapshot) Snapshot {
	out := Snapshot{
		TargetCount: s.TargetCount,
		ReadBytes:   s.ReadBytes - other.ReadBytes,
		WriteBytes:  s.WriteBytes - other.WriteBytes,
		Syscalls:    make([]SyscallCounter, len(s.Syscalls)),
	}
	for i := range s.Syscalls {
		out.Syscalls[i] = SyscallCounter{
			Count:     s.Syscalls[i].Count - other.Syscalls[i].Count,
			TotalTime: s.Syscalls[i].TotalTime - other.Syscalls[i].TotalTime,
		}
	}
	return out
}

// clone returns a value copy, including a fresh backing array for
// Syscalls so stored snapshots never alias the live one.
func (s Snapshot) clone() Snapshot {
	out := s
	out.Syscalls = append([]SyscallCounter(nil), s.Syscalls...)
	return out
}

// Capability is the contract implemented by a trace facility: register a
// set of observed syscall numbers up front, then add/remove individual
// tracees by OS thread id, and read back a cumulative Snapshot at any time.
type Capability interface {
	// AddTarget registers tid as a tracee. Returns false on failure; the
	// caller (a worker) logs and continues untraced rather than aborting.
	AddTarget(tid int) bool
	// RemoveTarget deregisters tid. Its contribution to Snapshot remains.
	RemoveTarget(tid int) bool
	// Snapshot returns the current cumulative counters.
	Snapshot() Snapshot
	// Deregister releases the capability. Must not be used afterward.
	Deregister()
}

// NullCapability fails every target registration and deregistration. It
// exercises the adapter's logged tracee-registration failures without a
// real tracing backend; a pool given it as its Capability still constructs.
type NullCapability struct{}

func (NullCapability) AddTarget(int) bool    { return false }
func (NullCapability) RemoveTarget(int) bool { return false }
func (NullCapability) Snapshot() Snapshot    { return Snapshot{} }
func (NullCapability) Deregister()           {}

// SimCapability is an in-process stand-in for the kernel tracer: workers
// report their own I/O via RecordIO (standing in for what a real ptrace/
// eBPF backend would observe), and Snapshot sums across all currently (and
// formerly) registered tids. Safe for concurrent use.
type SimCapability struct {
	syscallNRs []int32

	mu      sync.Mutex
	targets map[int]struct{}
	total   Snapshot
}

// NewSimCapability creates a SimCapability observing the given syscall
// numbers; Snapshot's Syscalls slice stays parallel to this list for the
// capability's lifetime.
func NewSimCapability(syscallNRs []int32) *SimCapability {
	return &SimCapability{
		syscallNRs: append([]int32(nil), syscallNRs...),
		targets:    make(map[int]struct{}),
		total:      Snapshot{Syscalls: make([]SyscallCounter, len(syscallNRs))},
	}
}

// Register mirrors register_traceset: creates a capability scoped to the
// given syscall numbers with no initial targets.
func Register(syscallNRs []int32) (*SimCapability, error) {
	return NewSimCapability(syscallNRs), nil
}

func (c *SimCapability) AddTarget(tid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[tid] = struct{}{}
	c.total.TargetCount = uint32(len(c.targets))
	return true
}

func (c *SimCapability) RemoveTarget(tid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[tid]; !ok {
		return false
	}
	delete(c.targets, tid)
	c.total.TargetCount = uint32(len(c.targets))
	return true
}

// RecordIO attributes an I/O event to the capability's running totals.
// The byte counts are always added. syscallNR should be one of the numbers
// passed to NewSimCapability; an unknown number adds no per-syscall count
// (mirrors the kernel side only accounting for the syscalls it was told to
// observe).
func (c *SimCapability) RecordIO(readBytes, writeBytes uint64, syscallNR int32, dur uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.ReadBytes += readBytes
	c.total.WriteBytes += writeBytes
	for i, nr := range c.syscallNRs {
		if nr == syscallNR {
			c.total.Syscalls[i].Count++
			c.total.Syscalls[i].TotalTime += dur
			break
		}
	}
}

func (c *SimCapability) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total.clone()
}

func (c *SimCapability) Deregister() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = nil
}
