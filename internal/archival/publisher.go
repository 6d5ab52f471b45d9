package archival

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Publisher hands accepted bids to JetStream for durable archival
type Publisher struct {
	js      jetstream.JetStream
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a JetStream context and makes sure the stream exists
func NewPublisher(ctx context.Context, conn *nats.Conn, logger *zap.Logger) (*Publisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := EnsureStream(ctx, js); err != nil {
		return nil, err
	}
	logger.Info("jetstream stream ready", zap.String("stream", StreamName))

	return &Publisher{js: js, timeout: 5 * time.Second, logger: logger}, nil
}

// Append publishes the entry and waits for the server acknowledgement.
// The event id doubles as the JetStream message id so retries are deduplicated.
func (p *Publisher) Append(ctx context.Context, entry models.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	subject := SubjectPrefix + entry.AuctionID
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(entry.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	p.logger.Debug("audit entry published",
		zap.String("subject", subject),
		zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))
	return nil
}
