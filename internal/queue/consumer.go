package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// defaultJobTimeout applies when a job does not carry its own timeout.
const defaultJobTimeout = 30 * time.Second

// JobHandler grades one job. A returned error becomes a failed result.
type JobHandler func(ctx context.Context, job *GradeJob) (*GradeResult, error)

// ConsumerConfig sizes the worker pool.
type ConsumerConfig struct {
	Workers  int
	Prefetch int // unacked deliveries per worker
}

// DefaultConsumerConfig returns two workers taking one job at a time.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{Workers: 2, Prefetch: 1}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	return cfg
}

// loop owns the cancel func and wait group of a running subscription.
type loop struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (l *loop) stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// drain calls handle for each delivery until ctx ends or msgs closes.
func drain(ctx context.Context, msgs <-chan amqp.Delivery, handle func(amqp.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handle(msg)
		}
	}
}

// Consumer grades jobs from the grade queue with a pool of workers and
// publishes each result.
type Consumer struct {
	conn     *Connection
	handler  JobHandler
	producer *Producer
	cfg      ConsumerConfig
	loop
}

// NewConsumer creates a consumer; call Start to begin.
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		conn:     conn,
		handler:  handler,
		producer: NewProducer(conn),
		cfg:      cfg.withDefaults(),
	}
}

// Start subscribes with manual acks and launches the workers.
func (c *Consumer) Start(ctx context.Context) error {
	ch := c.conn.Channel()
	if err := ch.Qos(c.cfg.Prefetch*c.cfg.Workers, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	msgs, err := ch.Consume(GradeQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", GradeQueueName, err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	slog.Info("grade consumer started", "workers", c.cfg.Workers, "prefetch", c.cfg.Prefetch)
	for i := range c.cfg.Workers {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			drain(ctx, msgs, func(msg amqp.Delivery) { c.handle(ctx, i, msg) })
		}()
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs.
func (c *Consumer) Stop() {
	c.stop()
	slog.Info("grade consumer stopped")
}

func (c *Consumer) handle(ctx context.Context, worker int, msg amqp.Delivery) {
	result, err := runJob(ctx, c.handler, msg.Body)
	if err != nil {
		// Malformed jobs never succeed, so they are dropped rather than requeued.
		slog.Error("rejecting grade job", "worker", worker, "error", err)
		_ = msg.Reject(false)
		return
	}

	if err := c.producer.PublishResult(ctx, result); err != nil {
		slog.Error("publish grade result", "worker", worker, "job_id", result.JobID, "error", err)
	}
	if err := msg.Ack(false); err != nil {
		slog.Error("ack grade job", "worker", worker, "job_id", result.JobID, "error", err)
	}
}

// runJob decodes a job body and runs handler on it. The only error is a
// malformed body; handler failures become failed results.
func runJob(ctx context.Context, handler JobHandler, body []byte) (*GradeResult, error) {
	var job GradeJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode grade job: %w", err)
	}
	if job.UserID == "" || job.ExerciseID == "" {
		return nil, fmt.Errorf("decode grade job: %w", domain.ErrInvalidInput)
	}

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := handler(jobCtx, &job)
	switch {
	case err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		result = &GradeResult{Status: StatusTimeout, Error: "grading timed out"}
	case err != nil:
		result = &GradeResult{Status: StatusFailed, Error: err.Error()}
	case result.Status == "":
		result.Status = StatusCompleted
	}

	result.JobID = job.ID
	result.UserID = job.UserID
	result.ExerciseID = job.ExerciseID
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	slog.Info("grade job done",
		"job_id", job.ID,
		"user_id", job.UserID,
		"exercise_id", job.ExerciseID,
		"status", result.Status,
		"passed", result.Passed,
		"duration", result.Duration,
	)
	return result, nil
}

// ResultConsumer reads the result queue and delivers each result to the
// caller waiting on its job.
type ResultConsumer struct {
	conn *Connection

	mu      sync.Mutex
	waiting map[string]chan *GradeResult
	loop
}

// NewResultConsumer creates a result consumer; call Start to begin.
func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{conn: conn, waiting: make(map[string]chan *GradeResult)}
}

// Expect returns a channel that receives the result for jobID once. Call
// it before publishing the job.
func (rc *ResultConsumer) Expect(jobID string) <-chan *GradeResult {
	ch := make(chan *GradeResult, 1)
	rc.mu.Lock()
	rc.waiting[jobID] = ch
	rc.mu.Unlock()
	return ch
}

// Forget drops the waiter for jobID, for callers that gave up.
func (rc *ResultConsumer) Forget(jobID string) {
	rc.mu.Lock()
	delete(rc.waiting, jobID)
	rc.mu.Unlock()
}

// deliver hands result to its waiter, if any. Results nobody waits for are
// discarded.
func (rc *ResultConsumer) deliver(result *GradeResult) bool {
	id := result.JobID.String()
	rc.mu.Lock()
	ch, ok := rc.waiting[id]
	delete(rc.waiting, id)
	rc.mu.Unlock()
	if ok {
		ch <- result
	}
	return ok
}

// Start subscribes to the result queue with auto-ack.
func (rc *ResultConsumer) Start(ctx context.Context) error {
	msgs, err := rc.conn.Channel().Consume(ResultQueueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", ResultQueueName, err)
	}

	ctx, rc.cancel = context.WithCancel(ctx)
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		drain(ctx, msgs, func(msg amqp.Delivery) {
			var result GradeResult
			if err := json.Unmarshal(msg.Body, &result); err != nil {
				slog.Error("decode grade result", "error", err)
				return
			}
			rc.deliver(&result)
		})
	}()
	return nil
}

// Stop ends the subscription.
func (rc *ResultConsumer) Stop() {
	rc.stop()
}
