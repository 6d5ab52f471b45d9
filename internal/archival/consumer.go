package archival

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// errMalformed marks messages that can never be persisted
var errMalformed = errors.New("malformed audit entry")

// AuditAppender persists audit entries
type AuditAppender interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// Consumer drains the audit stream into the audit log
type Consumer struct {
	js     jetstream.JetStream
	store  AuditAppender
	logger *zap.Logger
}

// NewConsumer creates a new JetStream consumer
func NewConsumer(conn *nats.Conn, store AuditAppender, logger *zap.Logger) (*Consumer, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Consumer{js: js, store: store, logger: logger}, nil
}

// Start consumes until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	stream, err := EnsureStream(ctx, c.js)
	if err != nil {
		return err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: SubjectFilter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.logger.Info("consuming audit entries", zap.String("subject", SubjectFilter))

	// Keep consumer running until context is cancelled
	<-ctx.Done()
	return nil
}

// handleMessage processes a single message and settles it
func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("failed to ack audit entry", zap.Error(ackErr))
		}
	case errors.Is(err, errMalformed):
		c.logger.Error("dropping malformed audit entry", zap.String("subject", msg.Subject()), zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			c.logger.Warn("failed to terminate audit entry", zap.Error(termErr))
		}
	default:
		c.logger.Error("failed to persist audit entry, will redeliver", zap.Error(err))
		if nakErr := msg.NakWithDelay(time.Second); nakErr != nil {
			c.logger.Warn("failed to nak audit entry", zap.Error(nakErr))
		}
	}
}

// process decodes and persists one audit entry
func (c *Consumer) process(ctx context.Context, data []byte) error {
	var entry models.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if entry.EventID == "" || entry.AuctionID == "" {
		return fmt.Errorf("%w: missing event or auction id", errMalformed)
	}

	// Create a timeout context for database operations
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.store.Append(dbCtx, entry); err != nil {
		return err
	}

	c.logger.Info("archived audit entry",
		zap.String("event_id", entry.EventID),
		zap.String("auction_id", entry.AuctionID),
		zap.String("bidder_id", entry.BidderID),
		zap.Int64("price", entry.Price))
	return nil
}
