// Package tpool is the public entry point (spec §4.3): Create, Submit,
// Wait, Scale, Destroy. Grounded on Lincyaw-OpenERP/tools/loadgen's
// internal/loadctrl/workerpool.go WorkerPool (Start/Stop/Submit/AdjustSize
// shape, currentSize/isRunning atomics) generalized from a fixed
// min/max-clamped channel pool to the roster-and-queue design spec §9
// mandates, and internal/loadctrl/controller.go's ticker-driven adjust()
// loop, replaced here by the per-worker non-blocking adapter check of
// spec §4.2.
package tpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jannes-thesis/adaptivepool/adapter"
	"github.com/jannes-thesis/adaptivepool/ppconfig"
	"github.com/jannes-thesis/adaptivepool/queue"
	"github.com/jannes-thesis/adaptivepool/tracecap"
	"github.com/jannes-thesis/adaptivepool/worker"
	"go.uber.org/zap"
)

// MaxWorkers is spec §6's MAX_WORKERS tunable.
const MaxWorkers int32 = 64

// waitPollInterval is Wait's bounded polling period (spec §4.3 explicitly
// allows either a condition variable or a bounded polling loop).
const waitPollInterval = 500 * time.Microsecond

// Errors returned by Create. Submit's failure modes (nil function,
// already-stopped pool) are reported as a plain bool, not an error, per
// its signature below.
var (
	ErrInvalidArgument  = errors.New("tpool: invalid argument")
	ErrTraceUnavailable = errors.New("tpool: trace capability unavailable")
)

// Observer receives scaling and throughput events for export (e.g. to
// Prometheus via ppmetrics). All methods must be safe for concurrent use
// and must not block.
type Observer interface {
	WorkerCount(n int32)
	BusyWorkers(n int32)
	ScaleEvent(delta int32)
	JobAccepted()
	JobDropped()
}

type noopObserver struct{}

func (noopObserver) WorkerCount(int32) {}
func (noopObserver) BusyWorkers(int32) {}
func (noopObserver) ScaleEvent(int32)  {}
func (noopObserver) JobAccepted()      {}
func (noopObserver) JobDropped()       {}

// Config configures pool construction (spec §4.3's create()).
type Config struct {
	// InitialSize must satisfy 1 <= InitialSize <= MaxWorkers.
	InitialSize int

	// AdapterParams, if non-nil, makes this an adaptive pool.
	AdapterParams *adapter.Params

	// ControllerParamString overrides AdapterParams.IntervalMS, StepSize
	// and SyscallNRs per spec §6 if non-empty. Ignored if AdapterParams is
	// nil.
	ControllerParamString string

	// Capability, if non-nil, is used instead of registering a new
	// tracecap.SimCapability — primarily for tests.
	Capability tracecap.Capability

	Logger   *zap.Logger
	Observer Observer
}

// Pool is an adaptively (or statically) sized worker pool.
type Pool struct {
	q       *queue.Queue
	roster  *worker.Roster
	adapter *adapter.Adapter

	numThreads atomic.Int32
	numBusy    atomic.Int32
	stopping   atomic.Bool

	logger *zap.Logger
	obs    Observer
	wg     sync.WaitGroup
	env    *worker.Env
}

// Create constructs a Pool per spec §4.3: validates InitialSize,
// optionally constructs the Adapter (whose trace registration failure
// fails construction atomically, leaving no background threads), then
// spawns exactly InitialSize workers.
func Create(cfg Config) (*Pool, error) {
	if cfg.InitialSize < 1 || int32(cfg.InitialSize) > MaxWorkers {
		return nil, fmt.Errorf("%w: initial size %d out of range [1, %d]", ErrInvalidArgument, cfg.InitialSize, MaxWorkers)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}

	p := &Pool{
		q:      queue.New(),
		roster: worker.NewRoster(),
		logger: logger,
		obs:    obs,
	}

	if cfg.AdapterParams != nil {
		params := *cfg.AdapterParams
		if cfg.ControllerParamString != "" {
			ac := ppconfig.AdapterConfig{IntervalMS: params.IntervalMS, StepSize: params.StepSize, SyscallNRs: params.SyscallNRs}
			if err := ppconfig.ParseControllerString(&ac, cfg.ControllerParamString); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			params.IntervalMS = ac.IntervalMS
			params.StepSize = ac.StepSize
			params.SyscallNRs = ac.SyscallNRs
		}

		cap := cfg.Capability
		if cap == nil {
			sim, err := tracecap.Register(params.SyscallNRs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTraceUnavailable, err)
			}
			cap = sim
		}
		p.adapter = adapter.New(params, cap, logger)
	}

	p.env = &worker.Env{
		Queue:      p.q,
		Roster:     p.roster,
		Adapter:    p.adapter,
		NumThreads: &p.numThreads,
		NumBusy:    &p.numBusy,
		Stopping:   &p.stopping,
		MaxWorkers: MaxWorkers,
		Logger:     logger,
		Observer:   obs,
		Spawn:      p.spawn,
	}

	p.numThreads.Store(int32(cfg.InitialSize))
	for _, w := range p.roster.Seed(cfg.InitialSize) {
		p.spawn(w)
	}
	obs.WorkerCount(int32(cfg.InitialSize))

	return p, nil
}

func (p *Pool) spawn(w *worker.Worker) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		worker.RunLoop(w, p.env)
	}()
}

// Submit enqueues fn(arg) for execution and never blocks. Returns false
// for a nil fn or after Destroy has begun (spec §4.3).
func (p *Pool) Submit(fn func(arg any) error, arg any) bool {
	if fn == nil {
		p.obs.JobDropped()
		return false
	}
	if p.stopping.Load() {
		p.obs.JobDropped()
		return false
	}
	ok := p.q.PushBack(queue.Job{Kind: queue.KindUser, Func: fn, Arg: arg})
	if ok {
		p.obs.JobAccepted()
	} else {
		p.obs.JobDropped()
	}
	return ok
}

// Wait blocks until no job is queued and no worker is mid-job, observed
// together — every job submitted strictly before this call has completed
// by the time it returns (spec §4.3).
func (p *Pool) Wait() {
	for {
		if p.numBusy.Load() == 0 && p.q.Len() == 0 {
			return
		}
		time.Sleep(waitPollInterval)
	}
}

// Scale requests a worker-count change of delta (positive: Clone,
// negative: Terminate), clamped per spec §4.2 at dispatch time.
func (p *Pool) Scale(delta int32) bool {
	ok := worker.Scale(p.env, delta)
	if ok {
		p.obs.ScaleEvent(delta)
	}
	return ok
}

// Destroy stops the pool: no further Submit succeeds, queued jobs are
// dropped without execution, and Destroy blocks until every worker has
// exited. The adapter (if any) is released afterward and must not be
// used again.
func (p *Pool) Destroy() {
	p.stopping.Store(true)
	p.q.Drain()
	p.wg.Wait()
	if p.adapter != nil {
		p.adapter.Close()
	}
}

// NumThreads returns the current live worker count.
func (p *Pool) NumThreads() int32 { return p.numThreads.Load() }

// NumBusy returns the current count of workers mid-job.
func (p *Pool) NumBusy() int32 { return p.numBusy.Load() }
