package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"grant-gateway/internal/models"
	"grant-gateway/internal/session"
)

type fakeFeedbackRepo struct {
	rows    map[string]*models.FeedbackRecord
	stats   []models.GrantStats
	deleted int64
	err     error
}

func newFakeFeedbackRepo() *fakeFeedbackRepo {
	return &fakeFeedbackRepo{rows: make(map[string]*models.FeedbackRecord)}
}

func (r *fakeFeedbackRepo) Upsert(ctx context.Context, rec *models.FeedbackRecord) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	key := rec.GrantID + "|" + rec.SessionHash
	_, exists := r.rows[key]
	r.rows[key] = rec
	return !exists, nil
}

func (r *fakeFeedbackRepo) AggregateStats(ctx context.Context, limit int) ([]models.GrantStats, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.stats) > limit {
		return r.stats[:limit], nil
	}
	return r.stats, nil
}

func (r *fakeFeedbackRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.deleted, r.err
}

func newTestFeedbackService(repo FeedbackRepository) *FeedbackService {
	return NewFeedbackService(repo, session.NewAnonymizer("test-salt"), nil, 100)
}

func TestSubmitCreatesRecord(t *testing.T) {
	repo := newFakeFeedbackRepo()
	svc := newTestFeedbackService(repo)

	created, err := svc.Submit(context.Background(), &SubmitRequest{
		GrantID: "G1",
		Signal:  models.SignalUp,
	}, "203.0.113.7")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created {
		t.Fatal("first submission should report created")
	}
	if len(repo.rows) != 1 {
		t.Fatalf("stored %d rows, want 1", len(repo.rows))
	}
}

func TestSubmitIdempotentPerClientPerGrant(t *testing.T) {
	repo := newFakeFeedbackRepo()
	svc := newTestFeedbackService(repo)

	req := &SubmitRequest{GrantID: "G1", Signal: models.SignalUp}

	if _, err := svc.Submit(context.Background(), req, "203.0.113.7"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	created, err := svc.Submit(context.Background(), &SubmitRequest{
		GrantID: "G1",
		Signal:  models.SignalDown,
	}, "203.0.113.7")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if created {
		t.Fatal("second submission for the same pair should report updated")
	}
	if len(repo.rows) != 1 {
		t.Fatalf("stored %d rows, want 1 after resubmission", len(repo.rows))
	}
	for _, rec := range repo.rows {
		if rec.Signal != models.SignalDown {
			t.Errorf("signal = %q, want last write to win", rec.Signal)
		}
	}
}

func TestSubmitDistinctClientsCreateDistinctRows(t *testing.T) {
	repo := newFakeFeedbackRepo()
	svc := newTestFeedbackService(repo)

	req := &SubmitRequest{GrantID: "G1", Signal: models.SignalUp}

	svc.Submit(context.Background(), req, "203.0.113.7")
	svc.Submit(context.Background(), req, "203.0.113.8")

	if len(repo.rows) != 2 {
		t.Fatalf("stored %d rows, want one per client", len(repo.rows))
	}
}

func TestSubmitValidation(t *testing.T) {
	repo := newFakeFeedbackRepo()
	svc := newTestFeedbackService(repo)

	tests := []struct {
		name    string
		req     *SubmitRequest
		wantErr error
	}{
		{"missing grant_id", &SubmitRequest{Signal: models.SignalUp}, ErrMissingGrantID},
		{"whitespace grant_id", &SubmitRequest{GrantID: "   ", Signal: models.SignalUp}, ErrMissingGrantID},
		{"invalid signal", &SubmitRequest{GrantID: "G1", Signal: "maybe"}, ErrInvalidSignal},
		{"empty signal", &SubmitRequest{GrantID: "G1"}, ErrInvalidSignal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.req, "203.0.113.7")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(repo.rows) != 0 {
		t.Fatal("invalid submissions must not write rows")
	}
}

func TestStats(t *testing.T) {
	repo := newFakeFeedbackRepo()
	repo.stats = []models.GrantStats{
		{GrantID: "G1", ThumbsUp: 2, ThumbsDown: 1, Total: 3},
		{GrantID: "G2", ThumbsUp: 0, ThumbsDown: 1, Total: 1},
	}
	svc := newTestFeedbackService(repo)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d rows, want 2", len(stats))
	}
	if stats[0].GrantID != "G1" || stats[0].Total != 3 {
		t.Errorf("first row = %+v, want G1 with total 3", stats[0])
	}
}

func TestStatsRepoError(t *testing.T) {
	repo := newFakeFeedbackRepo()
	repo.err = errors.New("connection lost")
	svc := newTestFeedbackService(repo)

	if _, err := svc.Stats(context.Background()); err == nil {
		t.Fatal("expected error when the repository fails")
	}
}
