// Package events moves identity and card events over Kafka.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/exp/slog"
)

// Handler processes one record. Errors wrapping ErrPermanent are not retried.
type Handler func(ctx context.Context, rec *kgo.Record) error

// ErrPermanent marks records that can never be processed, e.g. bad JSON.
var ErrPermanent = errors.New("permanent event failure")

type fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	Close()
}

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

// Consumer polls a consumer group and dispatches records by topic. Offsets
// are committed after each polled batch has been handled.
type Consumer struct {
	client   fetcher
	handlers map[string]Handler
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// NewConsumer connects to brokers as group and subscribes to every topic in
// handlers.
func NewConsumer(logger *slog.Logger, brokers []string, group string, handlers map[string]Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newConsumer(logger, client, handlers), nil
}

func newConsumer(logger *slog.Logger, client fetcher, handlers map[string]Handler) *Consumer {
	return &Consumer{
		client:   client,
		handlers: handlers,
		logger:   logger.With(slog.String("component", "kafka-consumer")),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

// Run polls until ctx is done or the client is closed.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("kafka consumer started")
	defer c.logger.Info("kafka consumer stopped")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("err", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.dispatch(ctx, rec)
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error("commit offsets", slog.Any("err", err))
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

// dispatch retries transient failures a few times. A record that still fails
// is logged and skipped so one poison message cannot stall the partition.
func (c *Consumer) dispatch(ctx context.Context, rec *kgo.Record) {
	h, ok := c.handlers[rec.Topic]
	if !ok {
		c.logger.Warn("no handler for topic", slog.String("topic", rec.Topic))
		return
	}

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, rec); err == nil {
			return
		}
		if errors.Is(err, ErrPermanent) {
			break
		}
		c.logger.Warn("handler failed, retrying",
			slog.String("topic", rec.Topic), slog.Int64("offset", rec.Offset),
			slog.Int("attempt", attempt), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	c.logger.Error("dropping record",
		slog.String("topic", rec.Topic), slog.Int("partition", int(rec.Partition)),
		slog.Int64("offset", rec.Offset), slog.Any("err", err))
}
