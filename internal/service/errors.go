package service

import "errors"

// Business-rule failures are terminal for a request. ErrConflict is
// retryable with fresh state; ErrStorage wraps collaborator I/O failures.
var (
	ErrNotFound      = errors.New("auction not found")
	ErrForbidden     = errors.New("cannot bid on own auction")
	ErrInvalidBid    = errors.New("bid must be higher than the current price")
	ErrAuctionClosed = errors.New("auction has ended")
	ErrConflict      = errors.New("auction changed while the bid was being applied")
	ErrStorage       = errors.New("storage failure")
	ErrInvalidInput  = errors.New("invalid input")
)
