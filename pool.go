package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aicamera/circle-detection-service/detections"

	"go.uber.org/zap"
)

const (
	DefaultPoolSize          = 4
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultHealthCheckPeriod = 60 * time.Second
	maxRecordedErrors        = 10
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available detector")
)

// DetectorFactory builds one detector; the pool calls it at start-up and
// whenever a broken detector has to be replaced.
type DetectorFactory func() (detections.Detector, error)

type PoolOptions struct {
	Size              int
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
}

// DetectorPool hands out detectors to one caller at a time. Each detector
// owns its own engine session, so callers never share one concurrently.
type DetectorPool struct {
	detectors chan detections.Detector
	factory   DetectorFactory
	opts      PoolOptions
	log       *zap.Logger

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
	stop       chan struct{}

	metricsMu sync.RWMutex
	metrics   PoolMetrics
}

type PoolMetrics struct {
	InUse           int           `json:"detectors_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

func NewDetectorPool(factory DetectorFactory, opts PoolOptions, log *zap.Logger) (*DetectorPool, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultPoolSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.HealthCheckPeriod <= 0 {
		opts.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool := &DetectorPool{
		detectors: make(chan detections.Detector, opts.Size),
		factory:   factory,
		opts:      opts,
		log:       log,
		stop:      make(chan struct{}),
	}

	for i := 0; i < opts.Size; i++ {
		d, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize detector %d: %w", i, err)
		}
		pool.detectors <- d
		pool.live++
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *DetectorPool) Size() int {
	return p.opts.Size
}

func (p *DetectorPool) Acquire(ctx context.Context) (detections.Detector, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metricsMu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metricsMu.Unlock()
	}()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case d, ok := <-p.detectors:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metricsMu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metricsMu.Unlock()
		return d, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.metrics.AcquireFailures++
		p.metricsMu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *DetectorPool) Release(d detections.Detector) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeDetector(d)
		return
	}
	p.detectors <- d
}

// Discard drops a detector that can no longer be trusted. The health check
// builds its replacement.
func (p *DetectorPool) Discard(d detections.Detector) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalDiscarded++
	p.metricsMu.Unlock()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()

	p.closeDetector(d)
}

func (p *DetectorPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.detectors)

	for d := range p.detectors {
		p.closeDetector(d)
	}
}

func (p *DetectorPool) healthCheck() {
	ticker := time.NewTicker(p.opts.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish rebuilds detectors lost through Discard.
func (p *DetectorPool) replenish() {
	p.mu.Lock()
	missing := p.opts.Size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		d, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.closeDetector(d)
			return
		}
		p.detectors <- d
		p.live++
		p.mu.Unlock()
		p.log.Info("detector replenished", zap.Int("pool_size", p.opts.Size))
	}
}

func (p *DetectorPool) recordError(err error) {
	p.log.Error("failed to replenish detector", zap.Error(err))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *DetectorPool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}

func (p *DetectorPool) GetMetrics() PoolMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

func (p *DetectorPool) closeDetector(d detections.Detector) {
	if err := d.Close(); err != nil {
		p.log.Warn("failed to close detector", zap.Error(err))
	}
}
