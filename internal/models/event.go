package models

import "time"

// Realtime event types exchanged over the websocket channel
const (
	EventJoinRoom     = "join:room"
	EventChatSend     = "chat:send"
	EventTryEnd       = "auction:try_end"
	EventRoomUpdate   = "room:update"
	EventBidUpdate    = "bid:update"
	EventChatMessage  = "chat:new_message"
	EventAuctionEnded = "auction:ended"
	EventError        = "error"
)

// Envelope wraps every outgoing realtime message
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// BidUpdate is pushed to a room after every accepted bid.
// BidderReputation is nil when the score could not be read.
type BidUpdate struct {
	NewPrice         int64     `json:"newPrice"`
	BidderNickname   string    `json:"bidderNickname"`
	BidderReputation *int64    `json:"bidderReputation,omitempty"`
	NewEndDate       time.Time `json:"newEndDate"`
}

// AuctionEnded is the terminal event of a room
type AuctionEnded struct {
	HighestBidderID       string `json:"highestBidderId"`
	HighestBidderNickname string `json:"highestBidderNickname"`
}

// RoomUpdate carries the current member count of a room
type RoomUpdate struct {
	Count int `json:"count"`
}

// ChatMessage is both the chat:send payload and the chat:new_message payload
type ChatMessage struct {
	Nickname string `json:"nickname"`
	Msg      string `json:"msg"`
}

// JoinRoom is the join:room payload
type JoinRoom struct {
	AuctionID string `json:"auctionId"`
}

// TryEnd is the auction:try_end payload
type TryEnd struct {
	AuctionID string `json:"auctionId"`
}

// ErrorMessage is sent back to a single connection
type ErrorMessage struct {
	Message string `json:"message"`
}
