package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type memoryJob struct {
	payload Payload
	attempt int
}

type memoryTopic struct {
	jobs    chan memoryJob
	cfg     Config
	limiter *rate.Limiter
	// pending counts jobs that are buffered or waiting out a retry
	// backoff, mirroring what broker depth would report.
	mu      sync.Mutex
	pending int
}

// Memory is the in-process driver used by tests and QUEUE_DRIVER=memory
// development mode. It applies the same per-queue retry and rate-limit
// policy as the AMQP driver, minus durability.
type Memory struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
	logger *slog.Logger
}

func NewMemory(configs map[string]Config, logger *slog.Logger) *Memory {
	m := &Memory{
		topics: make(map[string]*memoryTopic),
		logger: logger.With("component", "memory-queue"),
	}
	for name, cfg := range configs {
		m.topics[name] = newMemoryTopic(cfg)
	}
	return m
}

func newMemoryTopic(cfg Config) *memoryTopic {
	cfg = cfg.withDefaults()
	t := &memoryTopic{
		jobs: make(chan memoryJob, 10000),
		cfg:  cfg,
	}
	if cfg.RateJobs > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateJobs)/cfg.RatePeriod.Seconds()), 1)
	}
	return t
}

func (m *Memory) topic(queueName string) *memoryTopic {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[queueName]
	if !ok {
		t = newMemoryTopic(Config{})
		m.topics[queueName] = t
	}
	return t
}

func (m *Memory) Enqueue(ctx context.Context, queueName string, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	m.mu.Unlock()

	t := m.topic(queueName)
	t.addPending(1)
	select {
	case t.jobs <- memoryJob{payload: p, attempt: 1}:
		return nil
	default:
		t.addPending(-1)
		return fmt.Errorf("queue %s full", queueName)
	}
}

func (m *Memory) Consume(ctx context.Context, queueName string, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	t := m.topic(queueName)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case job := <-t.jobs:
					m.process(gctx, queueName, t, job, h)
				}
			}
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (m *Memory) process(ctx context.Context, queueName string, t *memoryTopic, job memoryJob, h Handler) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
	}

	err := h(ctx, job.payload)
	if err == nil {
		t.addPending(-1)
		return
	}

	if job.attempt >= t.cfg.MaxAttempts {
		m.logger.Warn("job exhausted retries",
			"queue", queueName, "kind", job.payload.Kind, "attempt", job.attempt, "err", err)
		t.addPending(-1)
		return
	}

	delay := backoffDelay(t.cfg.Backoff, job.attempt)
	next := memoryJob{payload: job.payload, attempt: job.attempt + 1}
	time.AfterFunc(delay, func() {
		select {
		case t.jobs <- next:
		default:
			m.logger.Error("retry dropped, queue full", "queue", queueName)
			t.addPending(-1)
		}
	})
}

func (t *memoryTopic) addPending(delta int) {
	t.mu.Lock()
	t.pending += delta
	t.mu.Unlock()
}

func (m *Memory) Depth(ctx context.Context, queueName string) (int, error) {
	t := m.topic(queueName)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Queue = (*Memory)(nil)
