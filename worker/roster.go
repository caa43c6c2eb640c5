// Package worker implements the per-pool worker roster and work loop of
// spec §4.2, grounded on Lincyaw-OpenERP/tools/loadgen's
// internal/loadctrl/workerpool.go worker/workersMu pair, generalized from
// a fixed slice of workers to an insert/unlink roster with monotonic wids
// (the source's worker_list, minus its intrusive-linked-list bookkeeping).
package worker

import "sync"

// Roster tracks the set of live workers for a pool: it assigns each new
// worker a monotonically increasing id and tracks the current count
// (spec's worker_list: wid, amount, max_id).
type Roster struct {
	mu      sync.Mutex
	workers map[int]*Worker
	maxID   int
	amount  int
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{workers: make(map[int]*Worker)}
}

// Seed pre-populates the roster for pool construction, when initial_size
// workers are spawned with wids 0..initial_size-1 up front (spec §4.3).
// Must be called before any concurrent use.
func (r *Roster) Seed(n int) []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, n)
	for i := 0; i < n; i++ {
		w := &Worker{Wid: i}
		r.workers[i] = w
		out[i] = w
	}
	r.maxID = n - 1
	r.amount = n
	return out
}

// Insert assigns a fresh wid (max_id+1) to w and records it, incrementing
// amount. Returns the assigned wid.
func (r *Roster) Insert(w *Worker) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxID++
	w.Wid = r.maxID
	r.workers[w.Wid] = w
	r.amount++
	return w.Wid
}

// Unlink removes wid from the roster, decrementing amount. No-op if wid
// is not present.
func (r *Roster) Unlink(wid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[wid]; !ok {
		return
	}
	delete(r.workers, wid)
	r.amount--
}

// Amount returns the current live worker count.
func (r *Roster) Amount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.amount
}

// Wids returns a snapshot of currently live worker ids, for tests and
// metrics export.
func (r *Roster) Wids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.workers))
	for wid := range r.workers {
		out = append(out, wid)
	}
	return out
}
