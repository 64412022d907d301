package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Subscription mirrors the billing state needed to gate access.
type Subscription struct {
	UserID           string
	Status           string
	CurrentPeriodEnd time.Time
	UpdatedAt        time.Time
}

// Active reports whether the subscription grants access at now.
func (s Subscription) Active(now time.Time) bool {
	return s.Status == "active" && s.CurrentPeriodEnd.After(now)
}

// QueryLogEntry records one /answer call and how it ended.
type QueryLogEntry struct {
	ID        string
	UserID    string
	Question  string
	Outcome   string
	CreatedAt time.Time
}
