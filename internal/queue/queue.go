// Package queue is the durable, rate-limited, retryable work queue behind
// campaign dispatch. Jobs are ephemeral: Campaign and CampaignMessage rows
// are the source of truth, the queue only moves work.
package queue

import (
	"context"
	"time"
)

// Handler processes one job. A nil return acknowledges the job; an error
// triggers the queue's retry policy up to the configured max attempts.
type Handler func(ctx context.Context, p Payload) error

// Config is the per-queue policy: attempt limit, exponential backoff base
// delay, and a token-bucket rate limit applied to the queue as a whole,
// not per consumer.
type Config struct {
	// MaxAttempts of 1 means no retry. Never zero.
	MaxAttempts int
	// Backoff is the base delay; attempt n waits Backoff * 2^(n-1).
	Backoff time.Duration
	// RateJobs per RatePeriod; zero disables the limiter.
	RateJobs   int
	RatePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Backoff <= 0 {
		c.Backoff = 3 * time.Second
	}
	if c.RatePeriod <= 0 {
		c.RatePeriod = time.Second
	}
	return c
}

// Queue is the broker contract shared by the AMQP and in-memory drivers.
type Queue interface {
	// Enqueue durably persists a job before returning. A returned error
	// means the job was NOT stored and the caller must not assume it will
	// run.
	Enqueue(ctx context.Context, queueName string, p Payload) error
	// Consume runs up to concurrency handler invocations in parallel until
	// ctx is cancelled. Blocking, intended to run in its own goroutine.
	Consume(ctx context.Context, queueName string, concurrency int, h Handler) error
	// Depth reports the number of jobs waiting or retrying on the queue.
	Depth(ctx context.Context, queueName string) (int, error)
	Close() error
}

// backoffDelay computes the exponential delay before retry attempt
// `attempt` (1-based: the delay after the attempt-th failure).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
