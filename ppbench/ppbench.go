// Package ppbench is a demo workload used to exercise pools end to end
// (spec §8 scenarios S1-S4): counting jobs for throughput tests, and a
// file-writing job that reports its I/O to a tracecap.SimCapability so an
// adaptive pool's scale metric has something real to react to. Grounded
// on Lincyaw-OpenERP/tools/loadgen's internal/generator/faker.go
// (wrapping gofakeit.Faker for synthetic payloads) and its
// internal/loadctrl/ratelimiter.go TokenBucketLimiter (wrapping
// golang.org/x/time/rate.Limiter).
package ppbench

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jannes-thesis/adaptivepool/tracecap"
	"golang.org/x/time/rate"
)

// RunID returns a fresh correlation id for one benchmark run.
func RunID() string {
	return uuid.NewString()
}

// CountingJob returns a pool job that increments counter by one, suited to
// exactly-once and throughput checks such as scenario S1.
func CountingJob(counter *atomic.Int64) func(arg any) error {
	return func(any) error {
		counter.Add(1)
		return nil
	}
}

// Paced wraps a token-bucket limiter around a job, capping how often it
// can run. qps is the steady-state rate; burst allows short bursts above
// it.
type Paced struct {
	limiter *rate.Limiter
	job     func(arg any) error
}

// NewPaced constructs a Paced job.
func NewPaced(qps float64, burst int, job func(arg any) error) *Paced {
	return &Paced{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		job:     job,
	}
}

// Run waits for a token (respecting ctx) then runs the wrapped job.
func (p *Paced) Run(ctx context.Context) func(arg any) error {
	return func(arg any) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		return p.job(arg)
	}
}

// FileWriteJob writes a synthetic payload of size bytes to a file under
// dir, fsyncs it, and reports the write to cap so an adapter watching
// write_bytes has a real signal to scale against.
type FileWriteJob struct {
	Dir       string
	Size      int
	SyscallNR int32
	Cap       *tracecap.SimCapability
}

// Do performs one write-and-fsync cycle. arg is ignored; every call
// writes to a fresh temp file so concurrent workers never collide.
func (j *FileWriteJob) Do(any) error {
	payload := gofakeit.LetterN(uint(j.Size))

	f, err := os.CreateTemp(j.Dir, "ppbench-*.dat")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	n, err := f.WriteString(payload)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	if j.Cap != nil {
		j.Cap.RecordIO(0, uint64(n), j.SyscallNR, 0)
	}
	return nil
}
