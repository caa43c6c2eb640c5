package tracecap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimCapability_TargetCountTracksRegistrations(t *testing.T) {
	c := NewSimCapability([]int32{1, 2})
	assert.True(t, c.AddTarget(100))
	assert.True(t, c.AddTarget(101))
	assert.Equal(t, uint32(2), c.Snapshot().TargetCount)

	assert.True(t, c.RemoveTarget(100))
	assert.Equal(t, uint32(1), c.Snapshot().TargetCount)

	assert.False(t, c.RemoveTarget(999))
}

func TestSimCapability_RecordIOAccumulates(t *testing.T) {
	c := NewSimCapability([]int32{1, 2})
	c.AddTarget(1)
	c.RecordIO(0, 4096, 1, 1000)
	c.RecordIO(0, 4096, 1, 2000)
	c.RecordIO(100, 0, 2, 500)

	snap := c.Snapshot()
	assert.Equal(t, uint64(8192), snap.WriteBytes)
	assert.Equal(t, uint64(100), snap.ReadBytes)
	assert.Equal(t, uint32(2), snap.Syscalls[0].Count)
	assert.Equal(t, uint64(3000), snap.Syscalls[0].TotalTime)
	assert.Equal(t, uint32(1), snap.Syscalls[1].Count)
}

func TestSimCapability_RemovedTargetContributionRetained(t *testing.T) {
	c := NewSimCapability([]int32{1})
	c.AddTarget(1)
	c.RecordIO(0, 100, 1, 10)
	c.RemoveTarget(1)

	snap := c.Snapshot()
	assert.Equal(t, uint64(100), snap.WriteBytes, "I/O already attributed must survive target removal")
}

func TestSnapshot_SubIsElementWise(t *testing.T) {
	a := Snapshot{
		TargetCount: 3,
		ReadBytes:   500,
		WriteBytes:  1000,
		Syscalls:    []SyscallCounter{{Count: 10, TotalTime: 100}},
	}
	b := Snapshot{
		TargetCount: 3,
		ReadBytes:   200,
		WriteBytes:  400,
		Syscalls:    []SyscallCounter{{Count: 4, TotalTime: 40}},
	}
	diff := a.Sub(b)
	assert.Equal(t, uint64(300), diff.ReadBytes)
	assert.Equal(t, uint64(600), diff.WriteBytes)
	assert.Equal(t, uint32(6), diff.Syscalls[0].Count)
	assert.Equal(t, uint64(60), diff.Syscalls[0].TotalTime)
}

func TestNullCapability_AlwaysFailsRegistration(t *testing.T) {
	var c NullCapability
	assert.False(t, c.AddTarget(1))
	assert.False(t, c.RemoveTarget(1))
}
