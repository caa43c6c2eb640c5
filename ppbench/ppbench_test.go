package ppbench

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jannes-thesis/adaptivepool/tracecap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunID_ProducesDistinctValues(t *testing.T) {
	assert.NotEqual(t, RunID(), RunID())
}

func TestCountingJob_Increments(t *testing.T) {
	var counter atomic.Int64
	job := CountingJob(&counter)
	require.NoError(t, job(nil))
	require.NoError(t, job(nil))
	assert.EqualValues(t, 2, counter.Load())
}

func TestFileWriteJob_WritesAndReportsIO(t *testing.T) {
	dir := t.TempDir()
	cap := tracecap.NewSimCapability([]int32{1})
	cap.AddTarget(1)
	job := &FileWriteJob{Dir: dir, Size: 1024, SyscallNR: 1, Cap: cap}

	require.NoError(t, job.Do(nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up after the write")

	snap := cap.Snapshot()
	assert.EqualValues(t, 1024, snap.WriteBytes)
	assert.EqualValues(t, 1, snap.Syscalls[0].Count)
}

func TestPaced_RespectsRateLimit(t *testing.T) {
	var count atomic.Int64
	p := NewPaced(1000, 1, func(any) error {
		count.Add(1)
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	run := p.Run(ctx)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_ = run(nil)
	}
	assert.GreaterOrEqual(t, count.Load(), int64(1))
	// burst 1 at 1000 qps: after the first token each further run waits
	// about 1ms for the next one.
	assert.True(t, time.Since(start) >= time.Millisecond, "runs beyond the burst must wait for tokens")
}
