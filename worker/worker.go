package worker

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jannes-thesis/adaptivepool/adapter"
	"github.com/jannes-thesis/adaptivepool/queue"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Worker is one pool worker: a goroutine pinned to an OS thread (so its
// kernel task id is stable for tracee registration) running RunLoop.
type Worker struct {
	Wid int
	tid int
}

// backoff bounds are the worker's sleep-poll parking policy (spec §5: "its
// own wait condition or sleep-poll"); grounded on the teacher's
// SlidingWindowLimiter poll loop in internal/loadctrl/ratelimiter.go, which
// uses the same double-then-cap shape.
const (
	parkMinBackoff = 200 * time.Microsecond
	parkMaxBackoff = 5 * time.Millisecond
)

// Observer receives live worker/busy counts as they change. A pool's
// metrics exporter satisfies this with a wider interface; nil is fine and
// means no one is watching. If the observer also has a ScaleEvent(int32)
// method, RunLoop reports each adapter-driven scaling delta to it.
type Observer interface {
	WorkerCount(n int32)
	BusyWorkers(n int32)
}

// Env is everything a worker's loop needs beyond its own identity, shared
// with the owning Pool. Its fields are the counters and collaborators
// spec §5 names explicitly: the job queue, the roster, the busy-thread
// counter pair, the stopping flag, and the optional adapter.
type Env struct {
	Queue      *queue.Queue
	Roster     *Roster
	Adapter    *adapter.Adapter // nil for a static (non-adaptive) pool
	NumThreads *atomic.Int32
	NumBusy    *atomic.Int32
	Stopping   *atomic.Bool
	MaxWorkers int32
	Logger     *zap.Logger
	Observer   Observer // nil is fine; no one is watching
	// Spawn starts a new worker goroutine for w, which the caller has
	// already recorded in the roster, and returns without waiting for it
	// to run.
	Spawn func(w *Worker)
}

// RunLoop runs w's work loop (spec §4.2) until it exits (Terminate
// dispatch or drained destroy). It must be called on its own goroutine.
func RunLoop(w *Worker, env *Env) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.tid = unix.Gettid()

	if env.Adapter != nil {
		env.Adapter.AddTracee(w.tid)
	}

	backoff := parkMinBackoff
loop:
	for {
		// Step 2: non-blocking scale check. Skipped once the pool is
		// tearing down so destroy can't race a fresh worker into
		// existence after it has already started draining.
		if env.Adapter != nil && !env.Stopping.Load() {
			if delta, ok := env.Adapter.StepScale(); ok && delta != 0 {
				if Scale(env, delta) {
					if so, ok := env.Observer.(interface{ ScaleEvent(delta int32) }); ok {
						so.ScaleEvent(delta)
					}
				}
			}
		}

		// Step 3: park with bounded back-off while the queue is empty
		// and we're not stopping.
		if env.Queue.Len() == 0 && !env.Stopping.Load() {
			time.Sleep(backoff)
			if backoff < parkMaxBackoff {
				backoff *= 2
				if backoff > parkMaxBackoff {
					backoff = parkMaxBackoff
				}
			}
			continue
		}
		backoff = parkMinBackoff

		// Step 4: re-check stopping before popping.
		if env.Stopping.Load() && env.Queue.Len() == 0 {
			break
		}

		job, ok := env.Queue.Pop()
		if !ok {
			continue
		}

		if env.Stopping.Load() && job.Kind == queue.KindUser {
			// destroy guarantees no new user jobs execute after it
			// returns; a user job surfacing after stopping is dropped.
			continue
		}

		switch job.Kind {
		case queue.KindUser:
			env.NumBusy.Add(1)
			env.reportBusy()
			func() {
				defer func() {
					env.NumBusy.Add(-1)
					env.reportBusy()
				}()
				job.Func(job.Arg)
			}()

		case queue.KindClone:
			if env.NumThreads.Load() >= env.MaxWorkers {
				continue // silently clamped, no command produced
			}
			env.NumThreads.Add(1)
			env.reportWorkerCount()
			nw := &Worker{}
			env.Roster.Insert(nw)
			env.Spawn(nw)

		case queue.KindTerminate:
			if env.NumThreads.Load() <= 1 {
				continue // floor of 1 until destroy
			}
			env.NumThreads.Add(-1)
			env.reportWorkerCount()
			break loop
		}
	}
	env.Roster.Unlink(w.Wid)
	if env.Adapter != nil {
		env.Adapter.RemoveTracee(w.tid)
	}
}

func (env *Env) reportWorkerCount() {
	if env.Observer != nil {
		env.Observer.WorkerCount(env.NumThreads.Load())
	}
}

func (env *Env) reportBusy() {
	if env.Observer != nil {
		env.Observer.BusyWorkers(env.NumBusy.Load())
	}
}

// Scale pushes |delta| Clone (delta > 0) or Terminate (delta < 0) commands
// onto the front of the queue under a single lock acquisition, preserving
// their relative order at the head (spec §4.3). The per-command
// MAX_WORKERS/floor-of-1 clamp happens at dispatch time in RunLoop, since
// the live worker count can keep changing after these commands are
// queued.
func Scale(env *Env, delta int32) bool {
	if delta == 0 {
		return true
	}
	kind := queue.KindClone
	n := delta
	if delta < 0 {
		kind = queue.KindTerminate
		n = -delta
	}
	cmds := make([]queue.Job, n)
	for i := range cmds {
		cmds[i] = queue.Job{Kind: kind}
	}
	return env.Queue.PushFrontAll(cmds)
}
