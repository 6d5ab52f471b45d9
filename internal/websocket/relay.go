package websocket

import (
	"context"

	"github.com/aaronwang/campus-auction/internal/redis"
)

// Relay forwards Pub/Sub messages from other gateway instances to local
// rooms until ctx is done or messages is closed
func (m *Manager) Relay(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			m.Deliver(msg.AuctionID, msg.Payload)
		}
	}
}
