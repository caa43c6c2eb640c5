package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		assert.True(t, q.PushBack(Job{Kind: KindUser, Arg: i}))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		job, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, i, job.Arg)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ScaleCommandsPreemptUserJobs(t *testing.T) {
	q := New()
	assert.True(t, q.PushBack(Job{Kind: KindUser, Arg: "user-1"}))
	assert.True(t, q.PushFront(Job{Kind: KindClone}))

	job, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, KindClone, job.Kind)

	job, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, KindUser, job.Kind)
}

func TestQueue_PushFrontAllPreservesOrder(t *testing.T) {
	q := New()
	assert.True(t, q.PushBack(Job{Kind: KindUser}))
	assert.True(t, q.PushFrontAll([]Job{
		{Kind: KindClone, Arg: "a"},
		{Kind: KindClone, Arg: "b"},
	}))

	first, _ := q.Pop()
	second, _ := q.Pop()
	third, _ := q.Pop()

	assert.Equal(t, "a", first.Arg)
	assert.Equal(t, "b", second.Arg)
	assert.Equal(t, KindUser, third.Kind)
}

func TestQueue_Drain(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.PushBack(Job{Kind: KindUser, Arg: i})
	}
	drained := q.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	const submitters = 8
	const perSubmitter = 200

	for s := 0; s < submitters; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				q.PushBack(Job{Kind: KindUser})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, submitters*perSubmitter, q.Len())

	count := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, submitters*perSubmitter, count)
}
