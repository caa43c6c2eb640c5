package tpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_EveryAcceptedJobRunsExactlyOnce(t *testing.T) {
	p, err := Create(Config{InitialSize: 4})
	require.NoError(t, err)
	defer p.Destroy()

	const n = 5000
	var counter atomic.Int64
	for i := 0; i < n; i++ {
		ok := p.Submit(func(any) error {
			counter.Add(1)
			return nil
		}, nil)
		require.True(t, ok)
	}
	p.Wait()
	assert.EqualValues(t, n, counter.Load())
}

func TestPool_SingleSubmitterOrderingPreserved(t *testing.T) {
	p, err := Create(Config{InitialSize: 1})
	require.NoError(t, err)
	defer p.Destroy()

	var mu sync.Mutex
	var order []int
	const n = 500
	for i := 0; i < n; i++ {
		i := i
		p.Submit(func(any) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, nil)
	}
	p.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestPool_DestroyIsAtomic(t *testing.T) {
	p, err := Create(Config{InitialSize: 2})
	require.NoError(t, err)

	block := make(chan struct{})
	var completions atomic.Int64
	// occupy both workers so the rest of the queue is still pending
	// when Destroy is called.
	for i := 0; i < 2; i++ {
		p.Submit(func(any) error {
			<-block
			completions.Add(1)
			return nil
		}, nil)
	}
	for i := 0; i < 100; i++ {
		p.Submit(func(any) error {
			completions.Add(1)
			return nil
		}, nil)
	}

	destroyed := make(chan struct{})
	go func() {
		p.Destroy()
		close(destroyed)
	}()

	time.Sleep(20 * time.Millisecond)
	close(block)
	<-destroyed

	before := completions.Load()
	assert.False(t, p.Submit(func(any) error { completions.Add(1); return nil }, nil),
		"submit after destroy must fail")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, completions.Load(), "no completions occur after destroy returns")
}

func TestPool_BoundedScalingStaysWithinLimits(t *testing.T) {
	p, err := Create(Config{InitialSize: 2})
	require.NoError(t, err)
	defer p.Destroy()

	assert.True(t, p.Scale(10))
	p.Wait()
	// dispatch needs the queued Clone commands to actually run; give the
	// workers a moment to process them.
	deadline := time.Now().Add(time.Second)
	for p.NumThreads() < 12 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.LessOrEqual(t, p.NumThreads(), MaxWorkers)
	assert.GreaterOrEqual(t, p.NumThreads(), int32(1))
}

// TestPool_ScaleCommandPreemptsQueuedUserJobs mirrors scenario S5: the
// single worker is parked inside a gate job while 999 ordinary jobs and a
// Scale(+1) are queued behind it; Scale's Clone command is pushed to the
// queue's front, so it must be popped before any of the 999 jobs — by
// construction of the queue, not by timing. A second gate on the first of
// the 999 jobs gives the assertion below a deterministic window.
func TestPool_ScaleCommandPreemptsQueuedUserJobs(t *testing.T) {
	p, err := Create(Config{InitialSize: 1})
	require.NoError(t, err)
	defer p.Destroy()

	gate1 := make(chan struct{})
	gate2 := make(chan struct{})
	var popped atomic.Int64

	p.Submit(func(any) error { <-gate1; return nil }, nil) // occupies the sole worker
	p.Submit(func(any) error { <-gate2; return nil }, nil) // first of the "999"; blocks again
	for i := 0; i < 998; i++ {
		p.Submit(func(any) error {
			popped.Add(1)
			return nil
		}, nil)
	}

	assert.True(t, p.Scale(1)) // Clone lands ahead of all 999 queued jobs
	close(gate1)

	deadline := time.Now().Add(time.Second)
	for p.NumThreads() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(2), p.NumThreads(), "the clone must be popped before the 999 queued user jobs")

	close(gate2)
}

func TestPool_CreateRejectsOutOfRangeInitialSize(t *testing.T) {
	_, err := Create(Config{InitialSize: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Create(Config{InitialSize: int(MaxWorkers) + 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPool_SubmitRejectsNilFunc(t *testing.T) {
	p, err := Create(Config{InitialSize: 1})
	require.NoError(t, err)
	defer p.Destroy()
	assert.False(t, p.Submit(nil, nil))
}

// TestPool_ConcurrentSubmittersPreserveFIFOPerSubmitter mirrors scenario
// S3: 8 submitters each push 1000 tagged jobs; each submitter's own
// sequence must be observed in order.
func TestPool_ConcurrentSubmittersPreserveFIFOPerSubmitter(t *testing.T) {
	p, err := Create(Config{InitialSize: 4})
	require.NoError(t, err)
	defer p.Destroy()

	const submitters = 8
	const perSubmitter = 1000
	var mu sync.Mutex
	seen := make(map[int][]int)

	var wg sync.WaitGroup
	for s := 0; s < submitters; s++ {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				i := i
				for !p.Submit(func(any) error {
					mu.Lock()
					seen[s] = append(seen[s], i)
					mu.Unlock()
					return nil
				}, nil) {
				}
			}
		}()
	}
	wg.Wait()
	p.Wait()

	for s := 0; s < submitters; s++ {
		seq := seen[s]
		require.Len(t, seq, perSubmitter, "submitter %d", s)
		for i, v := range seq {
			assert.Equal(t, i, v, fmt.Sprintf("submitter %d position %d", s, i))
		}
	}
}
