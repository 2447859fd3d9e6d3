// Package consumer reads ledger events from Kafka and applies them exactly
// once by recording each event id in the inbox within the same transaction.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler applies one message inside the inbox transaction.
type Handler func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error

type Inbox interface {
	RecordTx(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error)
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  MessageReader
	runner  db.TxRunner
	inbox   Inbox
	logger  *slog.Logger
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

func New(logger *slog.Logger, runner db.TxRunner, inboxRepo Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return NewWithReader(logger, runner, inboxRepo, reader, handler)
}

func NewWithReader(logger *slog.Logger, runner db.TxRunner, inboxRepo Inbox, reader MessageReader, handler Handler) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:  reader,
		runner:  runner,
		inbox:   inboxRepo,
		logger:  logger,
		handler: handler,
	}
}

// Run fetches until ctx is cancelled. Offsets are committed only after the
// message was applied or recognised as a duplicate, so a crash redelivers.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := c.Process(ctx, msg); err != nil && !errors.Is(err, ErrMalformed) {
			// Leave the offset uncommitted; the group redelivers after a rebalance.
			time.Sleep(1 * time.Second)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// Process applies one message. A message whose event id is already in the
// inbox is skipped without calling the handler.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	duplicate := false
	err := c.runner.InTx(ctxSpan, db.ReadCommitted, func(tx pgx.Tx) error {
		fresh, err := c.inbox.RecordTx(ctxSpan, tx, meta.EventID, meta.EventType)
		if err != nil {
			return err
		}
		duplicate = !fresh
		if duplicate {
			return nil
		}
		return c.handler(ctxSpan, tx, msg)
	})
	if err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		return err
	}
	if duplicate {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
	}
	return nil
}
