package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aaronwang/campus-auction/internal/auth"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/service"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCloser) CheckAndCloseIfExpired(ctx context.Context, auctionID string) (*service.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, auctionID)
	if f.err != nil {
		return nil, f.err
	}
	return &service.CloseResult{}, nil
}

func (f *fakeCloser) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testServer struct {
	server  *httptest.Server
	manager *Manager
	closer  *fakeCloser
	tokens  *auth.TokenService
}

func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()
	manager := startManager(t)
	closer := &fakeCloser{}
	tokens := auth.NewTokenService("test-secret", time.Hour)

	router := mux.NewRouter()
	NewHandler(manager, closer, manager, tokens, nil, cfg).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{server: server, manager: manager, closer: closer, tokens: tokens}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.Envelope{Type: eventType, Data: data}))
}

func receive(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	return env.Type, env.Data
}

func TestHandler_JoinAndChat(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	token, err := s.tokens.Issue(models.Identity{ID: "u1", Nickname: "fox"})
	require.NoError(t, err)

	authed := s.dial(t, "?token="+token)
	anon := s.dial(t, "")

	send(t, authed, models.EventJoinRoom, models.JoinRoom{AuctionID: "a1"})
	typ, data := receive(t, authed)
	assert.Equal(t, models.EventRoomUpdate, typ)
	assert.Equal(t, float64(1), data["count"])

	send(t, anon, models.EventJoinRoom, models.JoinRoom{AuctionID: "a1"})
	for _, conn := range []*websocket.Conn{authed, anon} {
		typ, data = receive(t, conn)
		assert.Equal(t, models.EventRoomUpdate, typ)
		assert.Equal(t, float64(2), data["count"])
	}

	// the authenticated nickname wins over the claimed one
	send(t, authed, models.EventChatSend, models.ChatMessage{Nickname: "impostor", Msg: " hello "})
	for _, conn := range []*websocket.Conn{authed, anon} {
		typ, data = receive(t, conn)
		assert.Equal(t, models.EventChatMessage, typ)
		assert.Equal(t, "fox", data["nickname"])
		assert.Equal(t, "hello", data["msg"])
	}

	send(t, anon, models.EventChatSend, models.ChatMessage{Msg: "hi"})
	typ, data = receive(t, authed)
	assert.Equal(t, models.EventChatMessage, typ)
	assert.Equal(t, anonymousName, data["nickname"])
}

func TestHandler_ChatRequiresRoom(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	conn := s.dial(t, "")

	send(t, conn, models.EventChatSend, models.ChatMessage{Nickname: "x", Msg: "hi"})
	typ, data := receive(t, conn)
	assert.Equal(t, models.EventError, typ)
	assert.Equal(t, "join a room first", data["message"])
}

func TestHandler_ChatRateLimit(t *testing.T) {
	s := newTestServer(t, HandlerConfig{ChatRate: 0.001, ChatBurst: 1})
	conn := s.dial(t, "")
	send(t, conn, models.EventJoinRoom, models.JoinRoom{AuctionID: "a1"})
	receive(t, conn)

	send(t, conn, models.EventChatSend, models.ChatMessage{Msg: "one"})
	typ, _ := receive(t, conn)
	assert.Equal(t, models.EventChatMessage, typ)

	send(t, conn, models.EventChatSend, models.ChatMessage{Msg: "two"})
	typ, data := receive(t, conn)
	assert.Equal(t, models.EventError, typ)
	assert.Contains(t, data["message"], "too many messages")
}

func TestHandler_TryEnd(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	conn := s.dial(t, "")

	send(t, conn, models.EventTryEnd, models.TryEnd{AuctionID: "a9"})
	send(t, conn, models.EventJoinRoom, models.JoinRoom{AuctionID: "a1"})
	receive(t, conn)
	send(t, conn, models.EventTryEnd, nil)

	assert.Eventually(t, func() bool {
		return len(s.closer.called()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a9", "a1"}, s.closer.called())
}

func TestHandler_TryEndUnknownAuction(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	s.closer.err = service.ErrNotFound
	conn := s.dial(t, "")

	send(t, conn, models.EventTryEnd, models.TryEnd{AuctionID: "missing"})
	typ, data := receive(t, conn)
	assert.Equal(t, models.EventError, typ)
	assert.Equal(t, "auction not found", data["message"])
}

func TestHandler_RejectsBadInput(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	conn := s.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	typ, data := receive(t, conn)
	assert.Equal(t, models.EventError, typ)
	assert.Equal(t, "malformed message", data["message"])

	send(t, conn, "bid:place", nil)
	typ, _ = receive(t, conn)
	assert.Equal(t, models.EventError, typ)

	send(t, conn, models.EventJoinRoom, models.JoinRoom{})
	typ, data = receive(t, conn)
	assert.Equal(t, models.EventError, typ)
	assert.Equal(t, "auctionId is required", data["message"])
}

func TestHandler_InvalidToken(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Stats(t *testing.T) {
	s := newTestServer(t, HandlerConfig{})
	conn := s.dial(t, "")
	send(t, conn, models.EventJoinRoom, models.JoinRoom{AuctionID: "a1"})
	receive(t, conn)

	resp, err := http.Get(s.server.URL + "/stats/auctions/a1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "a1", body["auctionId"])
	assert.Equal(t, float64(1), body["subscribers"])
}
