package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"grant-gateway/internal/events"
	"grant-gateway/internal/models"
	"grant-gateway/internal/session"
	"grant-gateway/internal/util"
)

// Validation sentinels, mapped to 400 at the handler layer.
var (
	ErrMissingGrantID = errors.New("grant_id is required")
	ErrInvalidSignal  = errors.New("signal must be 'up' or 'down'")
)

// FeedbackRepository is the persistence surface the service depends on.
type FeedbackRepository interface {
	Upsert(ctx context.Context, rec *models.FeedbackRecord) (created bool, err error)
	AggregateStats(ctx context.Context, limit int) ([]models.GrantStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubmitRequest carries one feedback submission after JSON decoding.
type SubmitRequest struct {
	GrantID string        `json:"grant_id"`
	Signal  models.Signal `json:"signal"`
	Score   *float64      `json:"score,omitempty"`
	Bucket  *string       `json:"bucket,omitempty"`
}

// FeedbackService validates, deduplicates, and persists feedback, and serves
// the aggregate read view.
type FeedbackService struct {
	repo       FeedbackRepository
	anonymizer *session.Anonymizer
	publisher  *events.Publisher
	pageSize   int

	statsGroup singleflight.Group
}

func NewFeedbackService(repo FeedbackRepository, anonymizer *session.Anonymizer, publisher *events.Publisher, pageSize int) *FeedbackService {
	return &FeedbackService{
		repo:       repo,
		anonymizer: anonymizer,
		publisher:  publisher,
		pageSize:   pageSize,
	}
}

// Submit records one vote from the given client address. Returns true when a
// new row was created, false when an existing vote was overwritten.
func (s *FeedbackService) Submit(ctx context.Context, req *SubmitRequest, clientAddr string) (bool, error) {
	grantID := util.SanitizeInput(req.GrantID)
	if grantID == "" {
		return false, ErrMissingGrantID
	}
	if !req.Signal.Valid() {
		return false, ErrInvalidSignal
	}

	var bucket *string
	if req.Bucket != nil {
		b := util.SanitizeInput(*req.Bucket)
		bucket = &b
	}

	rec := &models.FeedbackRecord{
		ID:          uuid.New(),
		GrantID:     grantID,
		Score:       req.Score,
		Bucket:      bucket,
		Signal:      req.Signal,
		SessionHash: s.anonymizer.Hash(clientAddr),
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("failed to submit feedback: %w", err)
	}

	s.publisher.PublishFeedback(models.FeedbackEvent{
		EventTime:   rec.CreatedAt,
		GrantID:     rec.GrantID,
		Signal:      rec.Signal,
		Score:       rec.Score,
		Bucket:      rec.Bucket,
		SessionHash: rec.SessionHash,
		Updated:     !created,
	})

	return created, nil
}

// Stats returns per-grant vote counts, most-voted first. Concurrent calls
// collapse into a single database query.
func (s *FeedbackService) Stats(ctx context.Context) ([]models.GrantStats, error) {
	result, err, _ := s.statsGroup.Do("stats", func() (interface{}, error) {
		return s.repo.AggregateStats(ctx, s.pageSize)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback stats: %w", err)
	}
	return result.([]models.GrantStats), nil
}

// StartRetentionSweep prunes feedback older than retentionDays once a day
// until ctx is cancelled. A zero or negative retention disables the sweep.
func (s *FeedbackService) StartRetentionSweep(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
				sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
				deleted, err := s.repo.DeleteOlderThan(sweepCtx, cutoff)
				cancel()
				if err != nil {
					util.Warn("feedback retention sweep failed", zap.Error(err))
					continue
				}
				if deleted > 0 {
					util.Info("feedback retention sweep completed",
						zap.Int64("deleted", deleted),
						zap.Int("retention_days", retentionDays))
				}
			}
		}
	}()
}
