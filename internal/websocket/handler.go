package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aaronwang/campus-auction/internal/auth"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxChatLength = 500
	tryEndTimeout = 5 * time.Second
	anonymousName = "anonymous"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer in front of the API
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatBroadcaster fans a chat message out to a room
type ChatBroadcaster interface {
	BroadcastChat(ctx context.Context, auctionID string, msg models.ChatMessage) error
}

// HandlerConfig configures a Handler
type HandlerConfig struct {
	ChatRate  float64
	ChatBurst int
}

// Handler upgrades connections and dispatches their inbound events
type Handler struct {
	manager *Manager
	closer  service.Closer
	chat    ChatBroadcaster
	tokens  *auth.TokenService
	logger  *zap.Logger

	chatRate  rate.Limit
	chatBurst int
}

// inboundEnvelope is a client message with its payload left undecoded
type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewHandler creates a new WebSocket handler. tokens may be nil, in which
// case every connection is anonymous.
func NewHandler(manager *Manager, closer service.Closer, chat ChatBroadcaster, tokens *auth.TokenService, logger *zap.Logger, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChatRate <= 0 {
		cfg.ChatRate = 2
	}
	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = 5
	}
	return &Handler{
		manager:   manager,
		closer:    closer,
		chat:      chat,
		tokens:    tokens,
		logger:    logger,
		chatRate:  rate.Limit(cfg.ChatRate),
		chatBurst: cfg.ChatBurst,
	}
}

// RegisterRoutes adds the realtime endpoints to a router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket)
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods("GET")
}

// HandleWebSocket upgrades HTTP connection to WebSocket.
// A token in the "token" query parameter identifies the user; without one
// the connection is anonymous.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var identity *models.Identity
	if raw := r.URL.Query().Get("token"); raw != "" && h.tokens != nil {
		id, err := h.tokens.Parse(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		identity = &id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, identity, h.chatRate, h.chatBurst)
	h.manager.RegisterClient(client)

	go client.writePump()
	go h.readPump(client)
}

// readPump pumps messages from the websocket connection to the dispatcher
func (h *Handler) readPump(c *Client) {
	defer h.manager.UnregisterClient(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		h.dispatch(c, message)
	}
}

// dispatch handles one inbound message
func (h *Handler) dispatch(c *Client, message []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(message, &in); err != nil {
		h.sendError(c, "malformed message")
		return
	}

	switch in.Type {
	case models.EventJoinRoom:
		var req models.JoinRoom
		if err := json.Unmarshal(in.Data, &req); err != nil || strings.TrimSpace(req.AuctionID) == "" {
			h.sendError(c, "auctionId is required")
			return
		}
		h.manager.Join(c, strings.TrimSpace(req.AuctionID))

	case models.EventChatSend:
		h.handleChat(c, in.Data)

	case models.EventTryEnd:
		h.handleTryEnd(c, in.Data)

	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Handler) handleChat(c *Client, data json.RawMessage) {
	room := h.manager.RoomOf(c)
	if room == "" {
		h.sendError(c, "join a room first")
		return
	}

	var msg models.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "malformed chat message")
		return
	}
	msg.Msg = strings.TrimSpace(msg.Msg)
	if msg.Msg == "" {
		h.sendError(c, "message is empty")
		return
	}
	if utf8.RuneCountInString(msg.Msg) > maxChatLength {
		h.sendError(c, "message is too long")
		return
	}
	if !c.limiter.Allow() {
		h.sendError(c, "too many messages, slow down")
		return
	}

	msg.Nickname = strings.TrimSpace(msg.Nickname)
	if c.Identity != nil {
		msg.Nickname = c.Identity.Nickname
	}
	if msg.Nickname == "" {
		msg.Nickname = anonymousName
	}

	ctx, cancel := context.WithTimeout(context.Background(), tryEndTimeout)
	defer cancel()
	if err := h.chat.BroadcastChat(ctx, room, msg); err != nil {
		h.logger.Warn("failed to broadcast chat", zap.String("auction_id", room), zap.Error(err))
		h.sendError(c, "message could not be delivered")
	}
}

func (h *Handler) handleTryEnd(c *Client, data json.RawMessage) {
	var req models.TryEnd
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendError(c, "malformed request")
			return
		}
	}
	auctionID := strings.TrimSpace(req.AuctionID)
	if auctionID == "" {
		auctionID = h.manager.RoomOf(c)
	}
	if auctionID == "" {
		h.sendError(c, "auctionId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tryEndTimeout)
	defer cancel()
	if _, err := h.closer.CheckAndCloseIfExpired(ctx, auctionID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			h.sendError(c, "auction not found")
			return
		}
		h.logger.Error("try_end failed", zap.String("auction_id", auctionID), zap.Error(err))
		h.sendError(c, "could not check auction")
	}
}

func (h *Handler) sendError(c *Client, message string) {
	payload, err := json.Marshal(models.Envelope{
		Type: models.EventError,
		Data: models.ErrorMessage{Message: message},
	})
	if err != nil {
		return
	}
	c.enqueue(payload)
}

// GetStats returns the number of local connections in a room
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"auctionId":   auctionID,
		"subscribers": h.manager.GetRoomCount(auctionID),
	})
}
