package models

import (
	"time"

	"github.com/google/uuid"
)

// Signal is the only user-facing vote dimension: thumbs up or thumbs down.
type Signal string

const (
	SignalUp   Signal = "up"
	SignalDown Signal = "down"
)

// Valid reports whether the signal is one of the two accepted values.
func (s Signal) Valid() bool {
	return s == SignalUp || s == SignalDown
}

// FeedbackRecord is one client's vote on one recommended grant. At most one
// record exists per (grant_id, session_hash); later submissions overwrite the
// earlier vote.
type FeedbackRecord struct {
	ID          uuid.UUID `db:"id" json:"id"`
	GrantID     string    `db:"grant_id" json:"grant_id"`
	Score       *float64  `db:"score" json:"score,omitempty"`
	Bucket      *string   `db:"bucket" json:"bucket,omitempty"`
	Signal      Signal    `db:"signal" json:"signal"`
	SessionHash string    `db:"session_hash" json:"session_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// GrantStats is the aggregate read view over feedback, one row per grant.
type GrantStats struct {
	GrantID    string `db:"grant_id" json:"grant_id"`
	ThumbsUp   int64  `db:"thumbs_up" json:"thumbs_up"`
	ThumbsDown int64  `db:"thumbs_down" json:"thumbs_down"`
	Total      int64  `db:"total" json:"total"`
}
