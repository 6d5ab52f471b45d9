package models

// Identity is the authenticated caller of an operation
type Identity struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}
