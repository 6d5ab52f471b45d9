package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/redis/go-redis/v9"
)

// EventChannelPrefix prefixes the per-auction Pub/Sub channel
const EventChannelPrefix = "auction_events:"

// EventChannelPattern matches every auction channel
const EventChannelPattern = EventChannelPrefix + "*"

// Publisher publishes room events to Redis Pub/Sub so every gateway
// instance can relay them to its own websocket clients
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a publisher on an existing connection
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client.client}
}

// BroadcastBidUpdate publishes a bid:update event
func (p *Publisher) BroadcastBidUpdate(ctx context.Context, auctionID string, update models.BidUpdate) error {
	return p.publish(ctx, auctionID, models.Envelope{Type: models.EventBidUpdate, Data: update})
}

// BroadcastAuctionEnded publishes an auction:ended event
func (p *Publisher) BroadcastAuctionEnded(ctx context.Context, auctionID string, ended models.AuctionEnded) error {
	return p.publish(ctx, auctionID, models.Envelope{Type: models.EventAuctionEnded, Data: ended})
}

// BroadcastChat publishes a chat:new_message event
func (p *Publisher) BroadcastChat(ctx context.Context, auctionID string, msg models.ChatMessage) error {
	return p.publish(ctx, auctionID, models.Envelope{Type: models.EventChatMessage, Data: msg})
}

func (p *Publisher) publish(ctx context.Context, auctionID string, event models.Envelope) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := EventChannelPrefix + auctionID
	if err := p.client.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event.Type, channel, err)
	}
	return nil
}
