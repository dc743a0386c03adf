package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField holds the JSON document in each stream entry.
const payloadField = "payload"

// redisBlock bounds each XREADGROUP so cancellation is noticed promptly.
const redisBlock = 5 * time.Second

type redisConn struct {
	client       *redis.Client
	stream       string
	group        string
	consumer     string
	claimMinIdle time.Duration

	// backlogFrom is the ID after which this consumer's own pending entries
	// are still to be re-read. Empty once the backlog is drained.
	backlogFrom string
	// claimFrom is the XAUTOCLAIM cursor over the group's pending list.
	claimFrom string
}

func newRedisConn(opts Options) *redisConn {
	return &redisConn{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}),
		stream:       opts.Topic,
		group:        opts.GroupID,
		consumer:     opts.ConsumerName,
		claimMinIdle: opts.ClaimMinIdle,
		backlogFrom:  "0",
		claimFrom:    "0-0",
	}
}

func (c *redisConn) probe(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ensureGroup creates the consumer group reading from the start of the
// stream, tolerating an existing group.
func (c *redisConn) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Fetch first replays entries delivered to this consumer but never acked,
// then takes over entries idle in other consumers' pending lists, and only
// then reads new entries.
func (c *redisConn) Fetch(ctx context.Context) (Message, error) {
	for c.backlogFrom != "" {
		m, ok, err := c.read(ctx, c.backlogFrom, -1)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			c.backlogFrom = ""
			break
		}
		c.backlogFrom = m.ID
		return c.message(m), nil
	}

	if c.claimMinIdle > 0 {
		m, ok, err := c.claim(ctx)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return c.message(m), nil
		}
	}

	for {
		m, ok, err := c.read(ctx, ">", redisBlock)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return c.message(m), nil
		}
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
	}
}

// read returns at most one entry after id. A negative block does not block.
func (c *redisConn) read(ctx context.Context, id string, block time.Duration) (redis.XMessage, bool, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, err
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

// claim moves one entry idle for at least claimMinIdle to this consumer.
func (c *redisConn) claim(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Start:    c.claimFrom,
		Count:    1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("claim idle entries on %s: %w", c.stream, err)
	}
	c.claimFrom = next
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	return msgs[0], true, nil
}

func (c *redisConn) message(m redis.XMessage) Message {
	msg := Message{Position: c.stream + "/" + m.ID, handle: m.ID}
	if v, ok := m.Values[payloadField].(string); ok {
		msg.Value = []byte(v)
	}
	return msg
}

func (c *redisConn) Commit(ctx context.Context, msg Message) error {
	id, ok := msg.handle.(string)
	if !ok {
		return fmt.Errorf("message %s was not fetched from redis", msg.Position)
	}
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}

func (c *redisConn) Publish(ctx context.Context, topic string, value []byte) error {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{payloadField: string(value)},
	}).Err()
}

func (c *redisConn) Close() error {
	return c.client.Close()
}
