// Command adaptivepool runs a self-scaling worker pool against a
// synthetic file-write workload, for manual exercise and as a reference
// wiring of every package in this module. Flag-based CLI and usage text
// are grounded on Lincyaw-OpenERP/tools/loadgen/cmd/main.go; the
// structured logging this module adds throughout is zap, following
// DimaJoyti-go-coffee/pkg/concurrency's use of it for the same kind of
// worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jannes-thesis/adaptivepool/adapter"
	"github.com/jannes-thesis/adaptivepool/ppbench"
	"github.com/jannes-thesis/adaptivepool/ppconfig"
	"github.com/jannes-thesis/adaptivepool/ppmetrics"
	"github.com/jannes-thesis/adaptivepool/tpool"
	"github.com/jannes-thesis/adaptivepool/tracecap"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "adaptivepool: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to a YAML pool configuration (see ppconfig.Config)")
		initialSize = flag.Int("workers", 4, "initial worker count (ignored if -config is set)")
		adaptive    = flag.Bool("adaptive", false, "run an adaptive pool with a throughput-driven scale metric (ignored if -config is set)")
		jobs        = flag.Int("jobs", 200, "number of file-write jobs to submit")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address (ignored if -config is set)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: adaptivepool [flags]\n\nRuns a self-scaling worker pool against a synthetic file-write workload.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := loadConfig(*configPath, *initialSize, *adaptive, *metricsAddr)
	if err != nil {
		return err
	}

	var exporter *ppmetrics.Exporter
	if cfg.MetricsAddr != "" {
		exporter = ppmetrics.New(ppmetrics.Config{Addr: cfg.MetricsAddr})
		if err := exporter.Start(); err != nil {
			return fmt.Errorf("starting metrics exporter: %w", err)
		}
		defer exporter.Stop(context.Background()) //nolint:errcheck
	}

	var cap *tracecap.SimCapability
	poolCfg := tpool.Config{
		InitialSize: cfg.InitialSize,
		Logger:      logger,
	}
	if exporter != nil {
		poolCfg.Observer = exporter
	}
	if cfg.Adapter != nil {
		cap = tracecap.NewSimCapability(cfg.Adapter.SyscallNRs)
		poolCfg.Capability = cap
		poolCfg.AdapterParams = &adapter.Params{
			IntervalMS:      cfg.Adapter.IntervalMS,
			StepSize:        cfg.Adapter.StepSize,
			SyscallNRs:      cfg.Adapter.SyscallNRs,
			CalcScaleMetric: bytesPerMillisecond,
			CalcIdleMetric:  func(adapter.Interval) float64 { return 0 },
		}
		poolCfg.ControllerParamString = cfg.ControllerParams
	}

	p, err := tpool.Create(poolCfg)
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("pool started", zap.String("run_id", ppbench.RunID()), zap.Int("initial_size", cfg.InitialSize))

	dir, err := os.MkdirTemp("", "adaptivepool-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	job := &ppbench.FileWriteJob{Dir: dir, Size: 100 * 1024, SyscallNR: firstSyscallNR(cfg), Cap: cap}
	for i := 0; i < *jobs; i++ {
		if ctx.Err() != nil {
			break
		}
		for !p.Submit(job.Do, nil) {
			time.Sleep(time.Millisecond)
		}
	}

	p.Wait()
	logger.Info("workload complete", zap.Int32("worker_count", p.NumThreads()))
	p.Destroy()
	return nil
}

func firstSyscallNR(cfg *ppconfig.Config) int32 {
	if cfg.Adapter != nil && len(cfg.Adapter.SyscallNRs) > 0 {
		return cfg.Adapter.SyscallNRs[0]
	}
	return 1
}

func bytesPerMillisecond(i adapter.Interval) float64 {
	elapsed := float64(i.EndMs - i.StartMs)
	if elapsed == 0 {
		return 0
	}
	return float64(i.WriteBytes) / elapsed
}

func loadConfig(path string, initialSize int, adaptive bool, metricsAddr string) (*ppconfig.Config, error) {
	if path != "" {
		return ppconfig.LoadFromFile(path)
	}
	cfg := &ppconfig.Config{Name: "adaptivepool-cli", InitialSize: initialSize, MetricsAddr: metricsAddr}
	if adaptive {
		cfg.Adapter = &ppconfig.AdapterConfig{
			IntervalMS: 200,
			StepSize:   2,
			SyscallNRs: []int32{1},
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
