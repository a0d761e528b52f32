// README: Kafka transport for side-effect tasks: producer for the API, consumer for the worker binary.
package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"carpool/internal/observability"
)

type KafkaQueue struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewKafkaQueue keys messages by carpool id so one ride's tasks share a
// partition. Writes are async: Enqueue only buffers, and delivery failures
// surface through the completion callback.
func NewKafkaQueue(brokers []string, topic string, log *slog.Logger) *KafkaQueue {
	k := &KafkaQueue{log: log}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   k.completed,
	}
	return k
}

func (k *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return k.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{Key: []byte(t.CarpoolID), Value: b})
}

// completed runs on the writer's goroutine once a batch is acknowledged or
// given up on.
func (k *KafkaQueue) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		var t Task
		if derr := json.Unmarshal(m.Value, &t); derr != nil {
			t.Kind = "unknown"
		}
		observability.SideEffectsTotal.WithLabelValues(string(t.Kind), "dropped").Inc()
		k.log.Error("side-effect publish failed",
			"kind", t.Kind, "task_id", t.ID, "carpool_id", string(m.Key), "err", err)
	}
}

func (k *KafkaQueue) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type KafkaConsumer struct {
	reader *kafka.Reader
	log    *slog.Logger
}

func NewKafkaConsumer(brokers []string, topic, group string, log *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log,
	}
}

// Run consumes until ctx is done. Offsets are committed after the runner is
// done with a message, whatever the outcome.
func (c *KafkaConsumer) Run(ctx context.Context, r *Runner) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch failed", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		var t Task
		if err := json.Unmarshal(m.Value, &t); err != nil {
			c.log.Error("invalid side-effect message", "offset", m.Offset, "partition", m.Partition, "err", err)
		} else {
			_ = r.Process(ctx, t)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Error("kafka commit failed", "offset", m.Offset, "err", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
