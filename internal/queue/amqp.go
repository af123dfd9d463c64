package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	attemptsHeader = "x-attempts"
	retrySuffix    = ".retry"
)

func retryQueueName(queueName string) string { return queueName + retrySuffix }

// retryArgs makes a retry queue dead-letter expired messages back onto the
// work queue, so a scheduled retry survives broker and process restarts.
func retryArgs(queueName string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}
}

func retryExpiration(delay time.Duration) string {
	return strconv.FormatInt(delay.Milliseconds(), 10)
}

// AMQPQueue is the RabbitMQ driver. Queues are declared durable and
// messages published persistent, so an enqueue that returns nil survives
// a broker restart.
type AMQPQueue struct {
	conn    *amqp.Connection
	pubMu   sync.Mutex
	pubCh   *amqp.Channel
	configs map[string]Config
	logger  *slog.Logger
}

// NewAMQP dials the broker and declares every configured queue up front,
// so a misconfigured broker fails at boot rather than at first enqueue.
func NewAMQP(url string, configs map[string]Config, logger *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	normalized := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(retryQueueName(name), true, false, false, false, retryArgs(name)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", retryQueueName(name), err)
		}
		normalized[name] = cfg.withDefaults()
	}

	return &AMQPQueue{
		conn:    conn,
		pubCh:   ch,
		configs: normalized,
		logger:  logger.With("component", "amqp-queue"),
	}, nil
}

func (q *AMQPQueue) config(queueName string) Config {
	if cfg, ok := q.configs[queueName]; ok {
		return cfg
	}
	return Config{}.withDefaults()
}

func (q *AMQPQueue) Enqueue(ctx context.Context, queueName string, p Payload) error {
	return q.publish(queueName, p, 1, "")
}

func (q *AMQPQueue) publish(queueName string, p Payload, attempt int, expiration string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pubCh.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{attemptsHeader: int32(attempt)},
		Expiration:   expiration,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}

func (q *AMQPQueue) Consume(ctx context.Context, queueName string, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	cfg := q.config(queueName)

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	var limiter *rate.Limiter
	if cfg.RateJobs > 0 {
		// Burst of 1 keeps jobs evenly spaced at RateJobs/RatePeriod.
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateJobs)/cfg.RatePeriod.Seconds()), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					q.handleDelivery(gctx, queueName, cfg, limiter, h, d)
				}
			}
		})
	}
	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, queueName string, cfg Config, limiter *rate.Limiter, h Handler, d amqp.Delivery) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			// Shutting down: requeue so another consumer picks it up.
			_ = d.Nack(false, true)
			return
		}
	}

	var p Payload
	if err := json.Unmarshal(d.Body, &p); err != nil {
		q.logger.Error("dropping undecodable job", "queue", queueName, "err", err)
		_ = d.Ack(false)
		return
	}
	if err := p.Validate(); err != nil {
		q.logger.Error("dropping malformed job", "queue", queueName, "err", err)
		_ = d.Ack(false)
		return
	}

	attempt := attemptFromHeaders(d.Headers)
	err := h(ctx, p)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if attempt >= cfg.MaxAttempts {
		q.logger.Warn("job exhausted retries",
			"queue", queueName, "kind", p.Kind, "attempt", attempt, "err", err)
		_ = d.Ack(false)
		return
	}

	// Park the retry on the dead-lettered delay queue with a per-message
	// TTL, then ack the original. The broker holds the clone through the
	// backoff window, so a process crash cannot drop it.
	delay := backoffDelay(cfg.Backoff, attempt)
	q.logger.Warn("job failed, scheduling retry",
		"queue", queueName, "kind", p.Kind, "attempt", attempt, "delay", delay, "err", err)
	if err := q.publish(retryQueueName(queueName), p, attempt+1, retryExpiration(delay)); err != nil {
		// Requeue the original without backoff rather than lose it.
		q.logger.Error("retry publish failed, requeueing immediately",
			"queue", queueName, "kind", p.Kind, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func attemptFromHeaders(headers amqp.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

func (q *AMQPQueue) Depth(ctx context.Context, queueName string) (int, error) {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	state, err := q.pubCh.QueueInspect(queueName)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", queueName, err)
	}
	total := state.Messages
	if _, ok := q.configs[queueName]; ok {
		retry, err := q.pubCh.QueueInspect(retryQueueName(queueName))
		if err != nil {
			return 0, fmt.Errorf("inspect %s: %w", retryQueueName(queueName), err)
		}
		total += retry.Messages
	}
	return total, nil
}

func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
