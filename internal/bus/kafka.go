package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// kafkaDial is swapped in tests.
var kafkaDial = func(ctx context.Context, broker string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	return conn.Close()
}

// kafkaProbe succeeds when any broker accepts a connection.
func kafkaProbe(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var errs []error
	for _, b := range brokers {
		err := kafkaDial(ctx, b)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return errors.Join(errs...)
}

type kafkaConn struct {
	reader *kafka.Reader
	writer *kafka.Writer
}

func newKafkaConn(opts Options) *kafkaConn {
	return &kafkaConn{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     opts.Brokers,
			GroupID:     opts.GroupID,
			Topic:       opts.Topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(opts.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (c *kafkaConn) Fetch(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Value:    m.Value,
		Position: fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
		handle:   m,
	}, nil
}

func (c *kafkaConn) Commit(ctx context.Context, msg Message) error {
	m, ok := msg.handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("message %s was not fetched from kafka", msg.Position)
	}
	return c.reader.CommitMessages(ctx, m)
}

func (c *kafkaConn) Publish(ctx context.Context, topic string, value []byte) error {
	return c.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: value})
}

func (c *kafkaConn) Close() error {
	return errors.Join(c.reader.Close(), c.writer.Close())
}
