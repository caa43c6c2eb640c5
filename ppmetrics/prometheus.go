// Package ppmetrics exports pool and adapter activity to Prometheus.
// Grounded on
// Lincyaw-OpenERP/tools/loadgen/internal/metrics/prometheus.go's
// PrometheusExporter: a private registry, typed Counter/Gauge fields
// initialized up front and registered once, an HTTP server serving
// promhttp's handler, and an explicit Start/Stop lifecycle. Metric
// surface is trimmed from the load-generator's HTTP-request metrics to
// this module's worker-count/scale/job counters; Exporter implements
// tpool.Observer so a Pool can report directly into it.
package ppmetrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the exporter's HTTP endpoint and metric namespacing.
type Config struct {
	// Addr is the listen address, e.g. ":9090". Required for Start.
	Addr string

	// Path is the URL path serving metrics. Default: "/metrics".
	Path string

	// Namespace prefixes every metric name. Default: "adaptivepool".
	Namespace string
}

// Exporter exports worker pool and adapter activity to Prometheus.
//
// Thread Safety: safe for concurrent use by multiple goroutines.
type Exporter struct {
	mu sync.Mutex

	config   Config
	registry *prometheus.Registry

	workerCount prometheus.Gauge
	busyWorkers prometheus.Gauge
	scaleTotal  *prometheus.CounterVec
	scaleMetric prometheus.Gauge
	jobsTotal   prometheus.Counter
	jobsDropped prometheus.Counter

	server  *http.Server
	ln      net.Listener
	running bool

	lastErr error
}

// New creates an Exporter and registers its metrics with a private
// registry (never the global default, to avoid collisions if several
// pools run in one process).
func New(config Config) *Exporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "adaptivepool"
	}

	e := &Exporter{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	e.initMetrics()
	return e
}

func (e *Exporter) initMetrics() {
	e.workerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace,
		Name:      "worker_count",
		Help:      "Current number of live workers.",
	})
	e.busyWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace,
		Name:      "busy_workers",
		Help:      "Current number of workers mid-job.",
	})
	e.scaleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Name:      "scale_total",
		Help:      "Total scale events, labeled by direction.",
	}, []string{"direction"})
	e.scaleMetric = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace,
		Name:      "scale_metric",
		Help:      "Most recently observed adapter scale delta.",
	})
	e.jobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Name:      "jobs_accepted_total",
		Help:      "Total user jobs accepted by Submit.",
	})
	e.jobsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Name:      "jobs_dropped_total",
		Help:      "Total user jobs rejected by Submit (nil function or already stopped).",
	})

	e.registry.MustRegister(
		e.workerCount,
		e.busyWorkers,
		e.scaleTotal,
		e.scaleMetric,
		e.jobsTotal,
		e.jobsDropped,
	)
}

// WorkerCount implements tpool.Observer.
func (e *Exporter) WorkerCount(n int32) { e.workerCount.Set(float64(n)) }

// BusyWorkers implements tpool.Observer.
func (e *Exporter) BusyWorkers(n int32) { e.busyWorkers.Set(float64(n)) }

// ScaleEvent implements tpool.Observer.
func (e *Exporter) ScaleEvent(delta int32) {
	direction := "up"
	if delta < 0 {
		direction = "down"
	}
	e.scaleTotal.WithLabelValues(direction).Inc()
	e.scaleMetric.Set(float64(delta))
}

// JobAccepted implements tpool.Observer.
func (e *Exporter) JobAccepted() { e.jobsTotal.Inc() }

// JobDropped implements tpool.Observer.
func (e *Exporter) JobDropped() { e.jobsDropped.Inc() }

// Start serves metrics at config.Addr until Stop is called.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return fmt.Errorf("starting metrics exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastErr = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// LastError returns the most recent error from the background HTTP
// server, if any.
func (e *Exporter) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Stop shuts the HTTP server down.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}
