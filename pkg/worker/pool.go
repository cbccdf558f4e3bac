package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/metric"
)

// Processor is a queue a worker can drain one event at a time.
// *flow.Queue implements it.
type Processor interface {
	Name() string
	Process(timeout time.Duration) error
}

// Drainer can empty itself without waiting. *flow.Queue implements it.
type Drainer interface {
	ProcessAll() int
}

// Pool runs a fixed number of goroutines that drain one queue
type Pool struct {
	// Configuration
	queue        Processor
	workers      int
	pollInterval time.Duration
	drainOnStop  bool
	logger       *slog.Logger

	// Runtime state
	metrics *Metrics
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	processed atomic.Int64
	failed    atomic.Int64
	idle      atomic.Int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	processed      prometheus.Counter
	failed         prometheus.Counter
	idlePolls      prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option func(*Pool)

// WithMetricsRegistry registers pool metrics, named with prefix, in registry
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(p *Pool) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithPollInterval sets how long an idle worker waits for an event before
// checking for shutdown again. The default is 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithDrainOnStop makes Stop run the queue dry after the workers exit, so no
// queued payload is left holding a reference.
func WithDrainOnStop() Option {
	return func(p *Pool) {
		p.drainOnStop = true
	}
}

// WithLogger sets the pool logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool of workers draining queue
func NewPool(queue Processor, workers int, opts ...Option) (*Pool, error) {
	if queue == nil {
		return nil, ErrNilQueue
	}
	if workers <= 0 {
		workers = 1
	}

	pool := &Pool{
		queue:        queue,
		workers:      workers,
		pollInterval: 100 * time.Millisecond,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	pool.logger = pool.logger.With("queue", queue.Name())

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool, nil
}

// initializeMetrics creates and registers metrics with the registry
func (p *Pool) initializeMetrics() {
	prefix := p.metricsPrefix

	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total events processed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total events rejected as malformed",
	})
	idlePolls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_idle_polls_total",
		Help: "Total polls that found the queue empty",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing events",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"status"})

	serviceName := "worker_pool"
	for _, err := range []error{
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", processed),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_idle_polls_total", idlePolls),
		p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", processingTime),
	} {
		if err != nil {
			p.logger.Warn("Worker pool metric not registered", "error", err)
		}
	}

	p.metrics = &Metrics{
		processed:      processed,
		failed:         failed,
		idlePolls:      idlePolls,
		processingTime: processingTime,
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.started = true
	p.logger.Debug("Worker pool started", "workers", p.workers)
	return nil
}

// Stop signals the workers and waits up to timeout for them to exit.
// Stop is idempotent once it has succeeded.
func (p *Pool) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
	case <-timer.C:
		return ErrStopTimeout
	}

	if d, ok := p.queue.(Drainer); ok && p.drainOnStop {
		if n := d.ProcessAll(); n > 0 {
			p.processed.Add(int64(n))
			p.logger.Debug("Drained queue on stop", "events", n)
		}
	}
	return nil
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		IdlePolls: p.idle.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	IdlePolls int64 `json:"idle_polls"`
}

// worker processes events until the context is cancelled
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := p.queue.Process(p.pollInterval)

		switch {
		case err == nil:
			p.processed.Add(1)
			p.observe("success", time.Since(start))
		case errors.Is(err, errors.ErrWouldBlock):
			p.idle.Add(1)
			if p.metrics != nil {
				p.metrics.idlePolls.Inc()
			}
		default:
			p.failed.Add(1)
			p.observe("error", time.Since(start))
			p.logger.Debug("Event rejected", "worker", id, "error", err)
		}
	}
}

func (p *Pool) observe(status string, d time.Duration) {
	if p.metrics == nil {
		return
	}
	if status == "success" {
		p.metrics.processed.Inc()
	} else {
		p.metrics.failed.Inc()
	}
	p.metrics.processingTime.WithLabelValues(status).Observe(d.Seconds())
}
