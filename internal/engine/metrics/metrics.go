// Package metrics provides engine-specific metrics collection.
// It wraps Prometheus collectors to provide structured telemetry for the
// run lifecycle, per-frame timing and process resource usage.
package metrics

import (
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// Collector provides engine metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	phase           prometheus.Gauge
	engineStatus    *prometheus.GaugeVec
	launchLatency   *prometheus.HistogramVec
	shutdownLatency *prometheus.HistogramVec
	failures        *prometheus.CounterVec
	stopRequests    prometheus.Counter
	runs            *prometheus.CounterVec

	// Frame metrics
	frames        prometheus.Counter
	frameDuration prometheus.Histogram
	updateLatency *prometheus.HistogramVec

	// Resource metrics
	uptime    prometheus.Gauge
	startTime time.Time

	procOnce sync.Once
	proc     *process.Process

	mu sync.RWMutex
}

// NewCollector creates a new engine metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "zee1"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.phase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "root",
		Name:      "phase",
		Help:      "Current lifecycle phase (0=created, 1=launched, 2=running, 3=shutting_down, 4=terminated)",
	})

	c.engineStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "status",
			Help:      "Current status of a sub-engine (0=idle, 1=launching, 2=launched, 3=launch_failed, 4=updating, 5=update_failed, 6=shutting_down, 7=stopped, 8=shutdown_failed)",
		},
		[]string{"engine"},
	)

	c.launchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "launch_duration_seconds",
			Help:      "Time taken to launch a sub-engine",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"engine", "result"},
	)

	c.shutdownLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "shutdown_duration_seconds",
			Help:      "Time taken to shut down a sub-engine",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"engine", "result"},
	)

	c.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Total number of sub-engine failures",
		},
		[]string{"engine", "phase"},
	)

	c.stopRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "root",
		Name:      "stop_requests_total",
		Help:      "Total number of stop requests",
	})

	c.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "root",
			Name:      "runs_total",
			Help:      "Total number of completed runs",
		},
		[]string{"result"},
	)

	c.frames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "loop",
		Name:      "frames_total",
		Help:      "Total number of frames in which every sub-engine updated",
	})

	c.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "loop",
		Name:      "frame_duration_seconds",
		Help:      "Wall time of one frame",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~256ms
	})

	c.updateLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "update_duration_seconds",
			Help:      "Time taken by one sub-engine update",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"engine"},
	)

	c.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "uptime_seconds",
		Help:      "Seconds since the collector was created",
	})

	rss := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "resident_memory_bytes",
		Help:      "Resident set size of the engine process",
	}, c.residentMemory)

	cpu := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "process",
		Name:      "cpu_percent",
		Help:      "CPU usage of the engine process since start, in percent",
	}, c.cpuPercent)

	c.registry.MustRegister(
		c.phase,
		c.engineStatus,
		c.launchLatency,
		c.shutdownLatency,
		c.failures,
		c.stopRequests,
		c.runs,
		c.frames,
		c.frameDuration,
		c.updateLatency,
		c.uptime,
		rss,
		cpu,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordPhase records the current lifecycle phase.
func (c *Collector) RecordPhase(phase int) {
	c.phase.Set(float64(phase))
}

// RecordEngineStatus records the current status of a sub-engine.
func (c *Collector) RecordEngineStatus(engine string, status int) {
	c.engineStatus.WithLabelValues(engine).Set(float64(status))
}

// RecordLaunch records sub-engine launch latency.
func (c *Collector) RecordLaunch(engine string, duration time.Duration, err error) {
	c.launchLatency.WithLabelValues(engine, result(err)).Observe(duration.Seconds())
	if err != nil {
		c.failures.WithLabelValues(engine, "launch").Inc()
	}
}

// RecordShutdown records sub-engine shutdown latency.
func (c *Collector) RecordShutdown(engine string, duration time.Duration, err error) {
	c.shutdownLatency.WithLabelValues(engine, result(err)).Observe(duration.Seconds())
	if err != nil {
		c.failures.WithLabelValues(engine, "shutdown").Inc()
	}
}

// RecordUpdate records one sub-engine update.
func (c *Collector) RecordUpdate(engine string, duration time.Duration, err error) {
	c.updateLatency.WithLabelValues(engine).Observe(duration.Seconds())
	if err != nil {
		c.failures.WithLabelValues(engine, "update").Inc()
	}
}

// RecordFrame records a completed frame.
func (c *Collector) RecordFrame(duration time.Duration) {
	c.frames.Inc()
	c.frameDuration.Observe(duration.Seconds())
}

// RecordStopRequest increments the stop request counter.
func (c *Collector) RecordStopRequest() {
	c.stopRequests.Inc()
}

// RecordRun records the outcome of a run.
func (c *Collector) RecordRun(err error) {
	c.runs.WithLabelValues(result(err)).Inc()
}

// UpdateUptime updates the uptime metric.
func (c *Collector) UpdateUptime() {
	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()
	c.uptime.Set(time.Since(start).Seconds())
}

// Reset resets gauges that describe the current run.
func (c *Collector) Reset() {
	c.engineStatus.Reset()
	c.phase.Set(0)
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()
}

func (c *Collector) self() *process.Process {
	c.procOnce.Do(func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err == nil {
			c.proc = p
		}
	})
	return c.proc
}

func (c *Collector) residentMemory() float64 {
	p := c.self()
	if p == nil {
		return 0
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS)
}

func (c *Collector) cpuPercent() float64 {
	p := c.self()
	if p == nil {
		return 0
	}
	pct, err := p.CPUPercent()
	if err != nil {
		return 0
	}
	return pct
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordPhase(int)                             {}
func (*NoOpCollector) RecordEngineStatus(string, int)              {}
func (*NoOpCollector) RecordLaunch(string, time.Duration, error)   {}
func (*NoOpCollector) RecordShutdown(string, time.Duration, error) {}
func (*NoOpCollector) RecordUpdate(string, time.Duration, error)   {}
func (*NoOpCollector) RecordFrame(time.Duration)                   {}
func (*NoOpCollector) RecordStopRequest()                          {}
func (*NoOpCollector) RecordRun(error)                             {}
func (*NoOpCollector) UpdateUptime()                               {}
func (*NoOpCollector) Reset()                                      {}

// MetricsCollector is the interface for metrics collection.
type MetricsCollector interface {
	RecordPhase(phase int)
	RecordEngineStatus(engine string, status int)
	RecordLaunch(engine string, duration time.Duration, err error)
	RecordShutdown(engine string, duration time.Duration, err error)
	RecordUpdate(engine string, duration time.Duration, err error)
	RecordFrame(duration time.Duration)
	RecordStopRequest()
	RecordRun(err error)
	UpdateUptime()
	Reset()
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = (*NoOpCollector)(nil)
)
