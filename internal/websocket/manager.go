package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aaronwang/campus-auction/internal/models"
	"go.uber.org/zap"
)

// Manager is the room registry of one gateway instance.
// Rooms are keyed by auction id. Membership changes and deliveries are
// serialized through the Run loop; a connection is in at most one room.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	memberOf map[*Client]string

	register   chan *Client
	unregister chan *Client
	join       chan *joinRequest
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *zap.Logger
}

// BroadcastMessage is a payload for every connection in a room
type BroadcastMessage struct {
	AuctionID string
	Payload   []byte
}

type joinRequest struct {
	client    *Client
	auctionID string
}

// NewManager creates a new room manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms:      make(map[string]map[*Client]struct{}),
		memberOf:   make(map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *joinRequest),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes membership changes and deliveries until ctx is done.
// It should run in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-m.register:
			m.logger.Debug("client connected", zap.String("client_id", client.ID))
		case client := <-m.unregister:
			m.removeClient(client)
		case req := <-m.join:
			m.moveClient(req.client, req.auctionID)
		case msg := <-m.broadcast:
			m.deliver(msg.AuctionID, msg.Payload)
		}
	}
}

// RegisterClient announces a new connection
func (m *Manager) RegisterClient(client *Client) {
	select {
	case m.register <- client:
	case <-m.done:
	}
}

// UnregisterClient removes a connection from its room and closes it
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
		client.close()
	}
}

// Join moves a connection into the room of auctionID, leaving its previous
// room if it had one
func (m *Manager) Join(client *Client, auctionID string) {
	select {
	case m.join <- &joinRequest{client: client, auctionID: auctionID}:
	case <-m.done:
	}
}

// Deliver queues a payload for every connection in a room
func (m *Manager) Deliver(auctionID string, payload []byte) {
	select {
	case m.broadcast <- &BroadcastMessage{AuctionID: auctionID, Payload: payload}:
	case <-m.done:
	}
}

// RoomOf returns the room a connection is in, or "" if none
func (m *Manager) RoomOf(client *Client) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memberOf[client]
}

// GetRoomCount returns the number of connections in a room
func (m *Manager) GetRoomCount(auctionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[auctionID])
}

// BroadcastBidUpdate delivers a bid:update to the local room
func (m *Manager) BroadcastBidUpdate(ctx context.Context, auctionID string, update models.BidUpdate) error {
	return m.deliverEvent(auctionID, models.Envelope{Type: models.EventBidUpdate, Data: update})
}

// BroadcastAuctionEnded delivers an auction:ended to the local room
func (m *Manager) BroadcastAuctionEnded(ctx context.Context, auctionID string, ended models.AuctionEnded) error {
	return m.deliverEvent(auctionID, models.Envelope{Type: models.EventAuctionEnded, Data: ended})
}

// BroadcastChat delivers a chat:new_message to the local room
func (m *Manager) BroadcastChat(ctx context.Context, auctionID string, msg models.ChatMessage) error {
	return m.deliverEvent(auctionID, models.Envelope{Type: models.EventChatMessage, Data: msg})
}

func (m *Manager) deliverEvent(auctionID string, event models.Envelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	m.Deliver(auctionID, payload)
	return nil
}

// moveClient runs on the Run loop only
func (m *Manager) moveClient(client *Client, auctionID string) {
	m.mu.Lock()
	previous, had := m.memberOf[client]
	if had && previous == auctionID {
		m.mu.Unlock()
		m.sendRoomUpdate(auctionID)
		return
	}
	if had {
		m.leaveLocked(client, previous)
	}
	members, ok := m.rooms[auctionID]
	if !ok {
		members = make(map[*Client]struct{})
		m.rooms[auctionID] = members
	}
	members[client] = struct{}{}
	m.memberOf[client] = auctionID
	m.mu.Unlock()

	m.logger.Debug("client joined room",
		zap.String("client_id", client.ID),
		zap.String("auction_id", auctionID),
		zap.String("previous", previous))

	if had {
		m.sendRoomUpdate(previous)
	}
	m.sendRoomUpdate(auctionID)
}

// removeClient runs on the Run loop only
func (m *Manager) removeClient(client *Client) {
	m.mu.Lock()
	room, had := m.memberOf[client]
	if had {
		m.leaveLocked(client, room)
	}
	m.mu.Unlock()

	client.close()
	m.logger.Debug("client disconnected", zap.String("client_id", client.ID), zap.String("auction_id", room))

	if had {
		m.sendRoomUpdate(room)
	}
}

func (m *Manager) leaveLocked(client *Client, auctionID string) {
	delete(m.memberOf, client)
	if members, ok := m.rooms[auctionID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(m.rooms, auctionID)
		}
	}
}

func (m *Manager) sendRoomUpdate(auctionID string) {
	payload, err := json.Marshal(models.Envelope{
		Type: models.EventRoomUpdate,
		Data: models.RoomUpdate{Count: m.GetRoomCount(auctionID)},
	})
	if err != nil {
		m.logger.Error("failed to marshal room update", zap.Error(err))
		return
	}
	m.deliver(auctionID, payload)
}

// deliver runs on the Run loop only
func (m *Manager) deliver(auctionID string, payload []byte) {
	m.mu.RLock()
	members := make([]*Client, 0, len(m.rooms[auctionID]))
	for client := range m.rooms[auctionID] {
		members = append(members, client)
	}
	m.mu.RUnlock()

	var slow []*Client
	for _, client := range members {
		if !client.enqueue(payload) {
			slow = append(slow, client)
		}
	}

	// a full send buffer means the peer stopped reading
	for _, client := range slow {
		m.logger.Warn("dropping slow client", zap.String("client_id", client.ID), zap.String("auction_id", auctionID))
		m.removeClient(client)
	}
}
