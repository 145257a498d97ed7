package worker

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

const (
	poolJobTimeout = 2 * time.Minute
	poolMaxRetries = 3
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int // bounded parallelism for message analysis
	WorkerChanSize int
	BatchSize      int
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        5,
		WorkerChanSize: 50,
		BatchSize:      1,
	}
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed int64
	JobsFailed    int64
	JobsRetried   int64
	QueueSize     int32
}

// Pool runs triage jobs on a bounded worker group.
type Pool struct {
	processor *Processor
	config    *PoolConfig

	group *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started atomic.Bool
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates the worker pool.
func NewPool(processor *Processor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 5
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = 50
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		processor: processor,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker group.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	worker := &messageWorker{pool: p}
	p.group = pool.New[*Message](p.config.Workers, worker).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start worker pool")
		p.started.Store(false)
		return
	}

	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Msg("worker pool started")
}

// Stop drains the pool gracefully.
func (p *Pool) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}

	p.log.Info().Msg("stopping worker pool...")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if p.group != nil {
		if err := p.group.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing worker pool")
		}
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit hands a job to the pool.
func (p *Pool) Submit(msg *Message) bool {
	if !p.started.Load() || p.group == nil {
		return false
	}
	p.group.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	return true
}

// processJob runs one job with a timeout and retry-with-backoff.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	jobCtx, cancel := context.WithTimeout(ctx, poolJobTimeout)
	defer cancel()

	err := p.processor.Process(jobCtx, msg)
	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("provider_id", msg.ProviderID).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if msg.Retries < poolMaxRetries {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)

		// Exponential backoff with jitter so retries do not land in
		// lockstep after a provider hiccup.
		base := time.Duration(1<<msg.Retries) * time.Second
		jitter := time.Duration(rand.Intn(500)) * time.Millisecond
		time.AfterFunc(base+jitter, func() {
			p.Submit(msg)
		})
	} else {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		p.log.Error().
			Str("job_id", msg.ID).
			Str("provider_id", msg.ProviderID).
			Msg("job permanently failed after max retries")
	}

	return err
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
				Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
				Int64("retried", atomic.LoadInt64(&p.metrics.JobsRetried)).
				Int32("queue_size", atomic.LoadInt32(&p.metrics.QueueSize)).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns a snapshot of the pool counters.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:   atomic.LoadInt64(&p.metrics.JobsRetried),
		QueueSize:     atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
