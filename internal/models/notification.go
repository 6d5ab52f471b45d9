package models

import "time"

// Notification is a user-facing message stored for later polling
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the slice of an account the auction core reads
type User struct {
	ID              string    `json:"id"`
	Nickname        string    `json:"nickname"`
	ReputationScore int64     `json:"reputation_score"`
	CreatedAt       time.Time `json:"created_at"`
}
