// Package adapter implements the feedback controller of spec §4.4: it
// consumes per-interval kernel accounting of the pool's workers (via
// tracecap.Capability) and emits a signed worker-count scaling delta meant
// to drive a user-supplied scale metric upward.
//
// The control loop's shape (periodic snapshot, try-lock, metric ring,
// pluggable metric callback) is grounded on
// Lincyaw-OpenERP/tools/loadgen/internal/loadctrl/controller.go's
// LoadController; the actual hill-climb/bootstrap/rollback arithmetic
// comes from original_source/dynamic_traceset/scaling.c's
// determine_scale_advice, made exhaustive where the C fell through.
package adapter

import (
	"sync"
	"time"

	"github.com/jannes-thesis/adaptivepool/tracecap"
	"go.uber.org/zap"
)

// smallestNormalFloat64 is the smallest positive *normal* (not denormal)
// float64, used as spec §6's negligible-difference unit (100·ε). Go's
// math.SmallestNonzeroFloat64 is the smallest denormal, not this value, so
// it's spelled out explicitly.
const smallestNormalFloat64 = 2.2250738585072014e-308

// negligibleThreshold is spec §6's "Negligible-difference threshold".
const negligibleThreshold = 100 * smallestNormalFloat64

// relativeChangeThreshold is spec §6's "Relative-change threshold".
const relativeChangeThreshold = 0.10

// Interval is the data handed to Params.CalcScaleMetric/CalcIdleMetric: the
// difference of two successive snapshots plus their start/end timestamps.
// Syscalls stays parallel to Params.SyscallNRs.
type Interval struct {
	StartMs     uint64
	EndMs       uint64
	ReadBytes   uint64
	WriteBytes  uint64
	TargetCount uint32
	Syscalls    []tracecap.SyscallCounter
}

// Params carries the controller's tuning knobs and the user's metric
// callbacks (spec §3's AdapterParams).
type Params struct {
	// IntervalMS is the minimum elapsed time between snapshots.
	IntervalMS uint64
	// StepSize is the positive default magnitude of a scaling delta.
	StepSize uint32
	// SyscallNRs lists the syscall numbers the capability should observe.
	SyscallNRs []int32
	// CalcScaleMetric computes the scalar the controller tries to drive
	// upward (e.g. bytes written per millisecond).
	CalcScaleMetric func(Interval) float64
	// CalcIdleMetric computes a scalar retained per interval for future
	// idleness-based policy; recorded but not consumed by GetScaleAdvice
	// (spec §9 Open Question (i)).
	CalcIdleMetric func(Interval) float64
}

// Adapter is the per-pool feedback controller instance (spec explicitly
// rejects the source's process-wide singleton adapter — each Pool owns
// one and passes it to its workers).
type Adapter struct {
	params Params
	cap    tracecap.Capability
	logger *zap.Logger
	nowMs  func() uint64

	mu             sync.Mutex // exclusive try-acquire lock (spec §4.4)
	previous       tracecap.Snapshot
	lastSnapshotMs uint64
	idleMetricMax  float64
	ring           ring
}

// New constructs an Adapter bound to cap, which must already be
// registered for params.SyscallNRs (tracecap.Register does this). Failure
// to register is the caller's concern (spec's TraceUnavailable is a
// pool-construction error, not an adapter one).
func New(params Params, cap tracecap.Capability, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := nowMs()
	a := &Adapter{
		params:         params,
		cap:            cap,
		logger:         logger,
		nowMs:          nowMs,
		previous:       cap.Snapshot(),
		lastSnapshotMs: now,
	}
	return a
}

// nowMs is the wall-clock source, overridden in tests via withClock.
func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// withClock overrides the adapter's time source for deterministic tests.
func (a *Adapter) withClock(fn func() uint64) *Adapter {
	a.nowMs = fn
	return a
}

// ReadyForUpdate reports whether IntervalMS has elapsed since the last
// snapshot. It is advisory; GetScaleAdvice makes the authoritative check.
// The worker loop does not call it: it goes straight to StepScale and so
// takes the try-lock on every iteration.
func (a *Adapter) ReadyForUpdate() bool {
	return a.nowMs() >= a.lastSnapshotMs+a.params.IntervalMS
}

// TryLock attempts to acquire the adapter's exclusive lock without
// blocking. A worker that fails simply skips its scale check this round.
func (a *Adapter) TryLock() bool {
	return a.mu.TryLock()
}

// Unlock releases the lock acquired by a successful TryLock.
func (a *Adapter) Unlock() {
	a.mu.Unlock()
}

// StepScale is the convenience path the worker loop uses: try the lock,
// and if acquired, compute and return a scale delta, unlocking before
// returning. ok is false if the lock was contended (caller does nothing).
func (a *Adapter) StepScale() (delta int32, ok bool) {
	if !a.TryLock() {
		return 0, false
	}
	defer a.Unlock()
	return a.GetScaleAdvice(), true
}

// GetScaleAdvice runs one controller cycle. The caller must hold the
// adapter's lock (via TryLock). See spec §4.4 for the algorithm; steps are
// numbered identically in comments below.
func (a *Adapter) GetScaleAdvice() int32 {
	now := a.nowMs()

	// 1. quiescent until the interval elapses.
	if now < a.lastSnapshotMs+a.params.IntervalMS {
		return 0
	}

	live := a.cap.Snapshot()
	targetCountBefore := a.previous.TargetCount

	// 3. roster changed mid-interval: resync and reject.
	if live.TargetCount != targetCountBefore {
		a.previous = live
		a.lastSnapshotMs = now
		return 0
	}

	// 4. compute the interval diff and its timestamps.
	diff := live.Sub(a.previous)
	interval := Interval{
		StartMs:     a.lastSnapshotMs,
		EndMs:       now,
		ReadBytes:   diff.ReadBytes,
		WriteBytes:  diff.WriteBytes,
		TargetCount: targetCountBefore,
		Syscalls:    diff.Syscalls,
	}

	// 5. snapshot resync happens regardless of what we decide below.
	a.previous = live
	a.lastSnapshotMs = now

	// 6. roster could have changed again while we were computing; reject.
	if live.TargetCount != targetCountBefore {
		return 0
	}

	// 7. compute metrics and record the datapoint.
	scaleMetric := a.params.CalcScaleMetric(interval)
	idleMetric := a.params.CalcIdleMetric(interval)
	a.ring.insert(IntervalDatapoint{
		ScaleMetric: scaleMetric,
		ResetMetric: idleMetric,
		TargetCount: targetCountBefore,
		TimeMs:      now,
	})
	if idleMetric > a.idleMetricMax {
		a.idleMetricMax = idleMetric
	}

	// 8. decide the delta.
	return a.decideDelta()
}

func (a *Adapter) decideDelta() int32 {
	switch a.ring.size {
	case 0:
		return 0 // defensive; unreachable, a datapoint was just inserted
	case 1:
		return int32(a.params.StepSize) // bootstrap: always scale up once
	}

	curr, _ := a.ring.at(0)
	prev, _ := a.ring.at(-1)

	d := curr.ScaleMetric - prev.ScaleMetric

	var rRel float64
	switch {
	case prev.ScaleMetric != 0:
		rRel = d / prev.ScaleMetric
	case d > 0:
		rRel = relativeChangeThreshold // any increase off a zero baseline clears the threshold
	default:
		rRel = 0
	}

	if abs(d) < negligibleThreshold {
		return 0
	}

	switch {
	case d >= 0 && rRel >= relativeChangeThreshold:
		return int32(a.params.StepSize)
	case d < 0 && rRel <= -relativeChangeThreshold:
		return int32(prev.TargetCount) - int32(curr.TargetCount)
	default:
		return 0
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// AddTracee registers tid as a tracee. Failures are logged, not fatal —
// the worker simply contributes no accounting (spec §4.4).
func (a *Adapter) AddTracee(tid int) {
	if !a.cap.AddTarget(tid) {
		a.logger.Warn("tracecap: failed to register tracee", zap.Int("tid", tid))
	}
}

// RemoveTracee deregisters tid. Failures are logged only.
func (a *Adapter) RemoveTracee(tid int) {
	if !a.cap.RemoveTarget(tid) {
		a.logger.Warn("tracecap: failed to deregister tracee", zap.Int("tid", tid))
	}
}

// IdleMetricMax returns the largest idle metric observed so far. Recorded
// per spec §9 Open Question (i); no policy in this module consumes it.
func (a *Adapter) IdleMetricMax() float64 {
	return a.idleMetricMax
}

// Close releases the adapter's trace registration. The adapter must not
// be used afterward.
func (a *Adapter) Close() {
	a.cap.Deregister()
}
