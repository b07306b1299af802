package models

import "time"

// GatewayEvent records one gate decision or business action for the audit
// trail. Session hashes, never raw addresses, identify the client.
type GatewayEvent struct {
	EventTime   time.Time `db:"event_time"`
	RequestID   string    `db:"request_id"`
	Route       string    `db:"route"`
	Action      string    `db:"action"`
	Outcome     string    `db:"outcome"`
	SessionHash string    `db:"session_hash"`
	Origin      string    `db:"origin"`
	Detail      string    `db:"detail"`
}

// Gateway event outcomes.
const (
	OutcomeAllowed         = "allowed"
	OutcomeOriginDenied    = "origin_denied"
	OutcomeChallengeFailed = "challenge_failed"
	OutcomeRateLimited     = "rate_limited"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeUpstreamError   = "upstream_error"
)

// FeedbackEvent is published to the feedback topic after a successful write,
// for downstream consumers (analytics, notification digests).
type FeedbackEvent struct {
	EventTime   time.Time `json:"event_time"`
	GrantID     string    `json:"grant_id"`
	Signal      Signal    `json:"signal"`
	Score       *float64  `json:"score,omitempty"`
	Bucket      *string   `json:"bucket,omitempty"`
	SessionHash string    `json:"session_hash"`
	Updated     bool      `json:"updated"`
}
