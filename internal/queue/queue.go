package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// Queue names
const (
	GradeQueueName  = "gradebox.grades"
	ResultQueueName = "gradebox.results"
	XPQueueName     = "gradebox.xp"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

var ErrNotConnected = errors.New("not connected to RabbitMQ")

// GradeJob asks a worker to run and grade learner code
type GradeJob struct {
	ID         uuid.UUID   `json:"id"`
	UserID     string      `json:"user_id"`
	ExerciseID string      `json:"exercise_id"`
	Code       domain.Code `json:"code"`
	Timeout    int         `json:"timeout"` // seconds, whole job
	CreatedAt  time.Time   `json:"created_at"`
}

// GradeResult is the outcome of a grade job
type GradeResult struct {
	JobID        uuid.UUID           `json:"job_id"`
	UserID       string              `json:"user_id"`
	ExerciseID   string              `json:"exercise_id"`
	Status       string              `json:"status"` // completed, failed, timeout
	Passed       bool                `json:"passed"`
	PassedChecks int                 `json:"passed_checks"`
	TotalChecks  int                 `json:"total_checks"`
	Messages     []string            `json:"messages,omitempty"`
	Lines        []domain.OutputLine `json:"lines,omitempty"`
	ErrorCount   int                 `json:"error_count"`
	TimedOut     bool                `json:"timed_out"`
	Award        string              `json:"award,omitempty"`
	Error        string              `json:"error,omitempty"`
	Duration     time.Duration       `json:"duration"`
	CompletedAt  time.Time           `json:"completed_at"`
}

// XPEvent announces an XP award
type XPEvent struct {
	UserID      string    `json:"user_id"`
	ExerciseID  string    `json:"exercise_id"`
	XP          int       `json:"xp"`
	XPTotal     int       `json:"xp_total"`
	Level       int       `json:"level"`
	Message     string    `json:"message"`
	Description string    `json:"description"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// Publisher sends JSON messages to a named queue
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
	breaker    circuitbreaker.CircuitBreaker[struct{}]
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{url: url}
	c.breaker = circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("queue publish circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueues(c.channel); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect(c.conn)

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// queueSpec describes one durable queue
type queueSpec struct {
	name string
	ttl  int32 // milliseconds
}

var queueSpecs = []queueSpec{
	{GradeQueueName, 300000}, // 5 minutes
	{ResultQueueName, 60000}, // 1 minute
	{XPQueueName, 86400000},  // 1 day
}

// declareQueues creates the necessary queues
func declareQueues(ch *amqp.Channel) error {
	for _, q := range queueSpecs {
		_, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-message-ttl": q.ttl},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// handleReconnect listens for connection close and attempts to reconnect
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return // Normal close
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	slog.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	// Exponential backoff
	for i := 0; i < 10; i++ {
		c.reconnects++
		time.Sleep(min(time.Duration(1<<i)*time.Second, 30*time.Second))

		if err := c.connect(); err != nil {
			slog.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		slog.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	slog.Error("failed to reconnect to RabbitMQ after 10 attempts")
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue. Repeated failures open
// a circuit breaker that fails publishes fast until the broker recovers.
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = c.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		c.mu.RLock()
		ch := c.channel
		c.mu.RUnlock()
		if ch == nil || ch.IsClosed() {
			return struct{}{}, ErrNotConnected
		}

		return struct{}{}, ch.PublishWithContext(
			ctx,
			"",    // exchange
			queue, // routing key
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
	})
	return err
}

// sanitizeURL removes the password from a broker URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Redacted()
}
