package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/client"
	"grant-gateway/internal/models"
	"grant-gateway/internal/util"
)

const insertQuery = `INSERT INTO gateway_events
(event_time, request_id, route, action, outcome, session_hash, origin, detail)`

// Recorder appends gate decisions to a ClickHouse audit table. A nil recorder
// or a write failure never affects request handling; the audit trail is
// best-effort by design.
type Recorder struct {
	client *client.ClickHouseClient
}

// NewRecorder wraps a ClickHouse client. Pass nil to disable auditing.
func NewRecorder(ch *client.ClickHouseClient) *Recorder {
	if ch == nil {
		return nil
	}
	return &Recorder{client: ch}
}

// InitSchema creates the audit table. MergeTree ordered by event time keeps
// recent events cheap to scan.
func (r *Recorder) InitSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS gateway_events (
	event_time   DateTime64(3),
	request_id   String,
	route        String,
	action       String,
	outcome      String,
	session_hash String,
	origin       String,
	detail       String
) ENGINE = MergeTree()
ORDER BY (event_time)
TTL toDateTime(event_time) + INTERVAL 90 DAY`

	return r.client.Exec(ctx, schema)
}

// Record writes one event. Detached from the request context so a client
// disconnect does not drop the audit row.
func (r *Recorder) Record(event models.GatewayEvent) {
	if r == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.client.BatchInsert(ctx, insertQuery, [][]interface{}{{
		event.EventTime,
		event.RequestID,
		event.Route,
		event.Action,
		event.Outcome,
		event.SessionHash,
		event.Origin,
		event.Detail,
	}})
	if err != nil {
		util.Warn("failed to record audit event",
			zap.String("route", event.Route),
			zap.String("outcome", event.Outcome),
			zap.Error(err))
	}
}
