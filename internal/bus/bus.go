// Package bus connects the agent to the event bus carrying anomaly
// predictions in and remediation outcomes out. Kafka and Redis Streams are
// supported; both give at-least-once delivery to a consumer group.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrUnavailable means the bus could not be reached within the bootstrap
// retry budget.
var ErrUnavailable = errors.New("event bus unavailable")

// Drivers.
const (
	DriverKafka = "kafka"
	DriverRedis = "redis"
)

// Message is one delivery from the predictions topic.
type Message struct {
	Value []byte
	// Position identifies the delivery for logs (topic/partition/offset or
	// stream entry ID).
	Position string

	handle any
}

// Consumer pulls messages one at a time. A message is redelivered unless
// committed.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
}

// Publisher appends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, value []byte) error
}

// Conn is a connected bus handle.
type Conn interface {
	Consumer
	Publisher
	Close() error
}

// Options configures Connect.
type Options struct {
	Driver        string
	Brokers       []string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	GroupID       string
	ConsumerName  string
	Topic         string
	Retry         RetryPolicy
	// ClaimMinIdle is how long a Redis Streams entry must sit unacked in
	// another consumer's pending list before this consumer takes it over.
	// Zero disables takeover.
	ClaimMinIdle time.Duration
}

// openRedis builds the Redis Streams connection; tests swap it to observe
// the client.
var openRedis = newRedisConn

// Connect probes the bus under the bootstrap retry policy and returns a
// connection subscribed to opts.Topic. After the last failed attempt the
// returned error wraps ErrUnavailable.
func Connect(ctx context.Context, opts Options) (Conn, error) {
	log := slog.Default().With("component", "bus", "driver", opts.Driver)

	if opts.ConsumerName == "" {
		host, _ := os.Hostname()
		opts.ConsumerName = opts.GroupID + "-" + host
	}

	var (
		probe   func(context.Context) error
		open    func(context.Context) (Conn, error)
		release = func() {}
	)
	switch opts.Driver {
	case DriverKafka:
		probe = func(ctx context.Context) error { return kafkaProbe(ctx, opts.Brokers) }
		open = func(context.Context) (Conn, error) { return newKafkaConn(opts), nil }
	case DriverRedis:
		rc := openRedis(opts)
		probe = rc.probe
		release = func() { _ = rc.Close() }
		open = func(ctx context.Context) (Conn, error) {
			if err := rc.ensureGroup(ctx); err != nil {
				release()
				return nil, err
			}
			return rc, nil
		}
	default:
		return nil, fmt.Errorf("unknown bus driver %q", opts.Driver)
	}

	if err := opts.Retry.Do(ctx, "bus bootstrap", probe); err != nil {
		release()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	conn, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Info("connected to event bus", "topic", opts.Topic, "group", opts.GroupID)
	return conn, nil
}

// RetryPolicy is a bounded retry with a fixed delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn until it succeeds, the attempts are exhausted, or ctx ends.
// Exhaustion returns the last error from fn.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	log := slog.Default().With("component", "retry")
	backoff := wait.Backoff{
		Duration: p.Delay,
		Factor:   1,
		Steps:    max(p.MaxAttempts, 1),
	}

	attempt := 0
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		if lastErr = fn(ctx); lastErr != nil {
			log.Warn("attempt failed", "op", op, "attempt", attempt, "max_attempts", backoff.Steps, "error", lastErr)
			return false, nil
		}
		return true, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, lastErr)
}
