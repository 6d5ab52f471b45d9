package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger
}

// Message represents a relayed Pub/Sub message
type Message struct {
	AuctionID string
	Payload   []byte // Raw JSON envelope
}

// NewSubscriber creates a subscriber on an existing connection
func NewSubscriber(client *Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client.client, logger: logger}
}

// SubscribeToPattern subscribes to all auction channels matching pattern
func (s *Subscriber) SubscribeToPattern(ctx context.Context, pattern string) error {
	pubsub := s.client.PSubscribe(ctx, pattern)
	// Wait for confirmation so no message published after this call is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	s.pubsub = pubsub
	return nil
}

// Listen forwards messages to messageChan until ctx is cancelled.
// This is a blocking operation - run in a goroutine
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			auctionID := extractAuctionIDFromChannel(msg.Channel)
			if auctionID == "" {
				s.logger.Warn("dropping message on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}

			select {
			case messageChan <- &Message{AuctionID: auctionID, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// extractAuctionIDFromChannel extracts auction ID from channel name
// Example: "auction_events:abc" -> "abc"
func extractAuctionIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, EventChannelPrefix) {
		return ""
	}
	return channel[len(EventChannelPrefix):]
}

// Close closes the subscription; the shared connection is closed by its owner
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
