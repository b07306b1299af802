package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/client"
	"grant-gateway/internal/models"
	"grant-gateway/internal/util"
)

// FeedbackRepository persists feedback rows in Postgres. The unique
// constraint on (grant_id, session_hash) plus ON CONFLICT makes concurrent
// submissions for the same pair collapse into one row.
type FeedbackRepository struct {
	client *client.PostgresClient
}

func NewFeedbackRepository(client *client.PostgresClient) *FeedbackRepository {
	return &FeedbackRepository{client: client}
}

// Upsert inserts a new feedback row or overwrites the existing one for the
// same (grant_id, session_hash). Returns true when a row was created, false
// when an existing row was updated.
func (r *FeedbackRepository) Upsert(ctx context.Context, rec *models.FeedbackRecord) (bool, error) {
	const query = `
INSERT INTO feedback (id, grant_id, score, bucket, signal, session_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (grant_id, session_hash) DO UPDATE SET
	score      = EXCLUDED.score,
	bucket     = EXCLUDED.bucket,
	signal     = EXCLUDED.signal,
	created_at = EXCLUDED.created_at
RETURNING (xmax = 0) AS inserted`

	var created bool
	err := r.client.Pool.QueryRow(ctx, query,
		rec.ID, rec.GrantID, rec.Score, rec.Bucket, rec.Signal, rec.SessionHash, rec.CreatedAt,
	).Scan(&created)
	if err != nil {
		util.Error("Failed to upsert feedback",
			zap.String("grant_id", rec.GrantID),
			zap.Error(err))
		return false, fmt.Errorf("failed to upsert feedback: %w", err)
	}

	util.Debug("Feedback upserted",
		zap.String("grant_id", rec.GrantID),
		zap.Bool("created", created))

	return created, nil
}

// AggregateStats returns per-grant signal counts ordered by total descending,
// capped at limit rows.
func (r *FeedbackRepository) AggregateStats(ctx context.Context, limit int) ([]models.GrantStats, error) {
	const query = `
SELECT grant_id,
	COUNT(*) FILTER (WHERE signal = 'up')   AS thumbs_up,
	COUNT(*) FILTER (WHERE signal = 'down') AS thumbs_down,
	COUNT(*)                                AS total
FROM feedback
GROUP BY grant_id
ORDER BY total DESC
LIMIT $1`

	rows, err := r.client.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.GrantStats, 0)
	for rows.Next() {
		var s models.GrantStats
		if err := rows.Scan(&s.GrantID, &s.ThumbsUp, &s.ThumbsDown, &s.Total); err != nil {
			return nil, fmt.Errorf("failed to scan feedback stats row: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback stats rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes feedback rows last written before the cutoff and
// returns the number of rows removed. Used by the retention sweep.
func (r *FeedbackRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.client.Pool.Exec(ctx, `DELETE FROM feedback WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired feedback: %w", err)
	}
	return tag.RowsAffected(), nil
}
