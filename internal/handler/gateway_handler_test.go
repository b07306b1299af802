package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/models"
	"grant-gateway/internal/policy"
	"grant-gateway/internal/ratelimit"
	"grant-gateway/internal/service"
	"grant-gateway/internal/session"
)

const allowedOrigin = "https://example.dev"

type memFeedbackRepo struct {
	rows  map[string]*models.FeedbackRecord
	stats []models.GrantStats
}

func newMemFeedbackRepo() *memFeedbackRepo {
	return &memFeedbackRepo{rows: make(map[string]*models.FeedbackRecord)}
}

func (r *memFeedbackRepo) Upsert(ctx context.Context, rec *models.FeedbackRecord) (bool, error) {
	key := rec.GrantID + "|" + rec.SessionHash
	_, exists := r.rows[key]
	r.rows[key] = rec
	return !exists, nil
}

func (r *memFeedbackRepo) AggregateStats(ctx context.Context, limit int) ([]models.GrantStats, error) {
	return r.stats, nil
}

func (r *memFeedbackRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memCounterStore struct {
	counts map[string]int64
	err    error
}

func newMemCounterStore() *memCounterStore {
	return &memCounterStore{counts: make(map[string]int64)}
}

func (s *memCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

type gatewayFixture struct {
	router  http.Handler
	repo    *memFeedbackRepo
	store   *memCounterStore
	backend *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"grants":["G1"]}`))
	}))
	t.Cleanup(backend.Close)

	repo := newMemFeedbackRepo()
	store := newMemCounterStore()
	anonymizer := session.NewAnonymizer("test-salt")

	origins := policy.NewOriginPolicy([]string{allowedOrigin, "https://www.example.dev"})
	verifier := policy.NewChallengeVerifier("", "", time.Second)
	limiter := ratelimit.NewLimiter(store, true, time.Minute, map[string]int64{
		ActionRecommend: 10,
		ActionFeedback:  30,
	})
	feedback := service.NewFeedbackService(repo, anonymizer, nil, 100)
	recommend := service.NewRecommendService(backend.URL, "secret-key", time.Second)

	gateway := NewGatewayHandler(origins, verifier, limiter, anonymizer, feedback, recommend, nil, nil, false)
	router := NewRouter(gateway, origins, 1<<20, zap.NewNop())

	return &gatewayFixture{router: router, repo: repo, store: store, backend: backend}
}

func (f *gatewayFixture) do(method, path, body, origin, addr string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = addr + ":51234"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPreflightShortCircuits(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodOptions, "/feedback", "", allowedOrigin, "203.0.113.7")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight body = %q, want empty", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != allowedOrigin {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestOriginEchoedWhenAllowed(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodGet, "/feedback/stats", "", "https://www.example.dev", "203.0.113.7")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://www.example.dev" {
		t.Errorf("Allow-Origin = %q, want the request origin echoed", got)
	}
}

func TestDisallowedOriginRejectedWithFallbackHeader(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodPost, "/feedback", `{"grant_id":"G1","signal":"up"}`, "https://evil.example.net", "203.0.113.7")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	// The header still carries the first allow-list entry; the real gate is
	// the in-handler origin check.
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != allowedOrigin {
		t.Errorf("Allow-Origin = %q, want first allow-list entry", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing the error field")
	}
	if len(f.repo.rows) != 0 {
		t.Error("rejected request must not write feedback")
	}
}

func TestMissingOriginRejected(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodPost, "/feedback", `{"grant_id":"G1","signal":"up"}`, "", "203.0.113.7")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for missing origin", rec.Code)
	}
}

func TestFeedbackCreateThenUpdate(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodPost, "/feedback", `{"grant_id":"G1","signal":"up"}`, allowedOrigin, "203.0.113.7")
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submission status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPost, "/feedback", `{"grant_id":"G1","signal":"down"}`, allowedOrigin, "203.0.113.7")
	if rec.Code != http.StatusOK {
		t.Fatalf("second submission status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["updated"] != true {
		t.Errorf("body = %v, want updated flag", body)
	}

	if len(f.repo.rows) != 1 {
		t.Fatalf("stored %d rows, want 1 after resubmission", len(f.repo.rows))
	}
	for _, stored := range f.repo.rows {
		if stored.Signal != models.SignalDown {
			t.Errorf("signal = %q, want last write to win", stored.Signal)
		}
	}
}

func TestFeedbackValidation(t *testing.T) {
	f := newGatewayFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid signal", `{"grant_id":"G1","signal":"maybe"}`},
		{"missing grant_id", `{"signal":"up"}`},
		{"malformed JSON", `{"grant_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/feedback", tt.body, allowedOrigin, "203.0.113.7")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(f.repo.rows) != 0 {
		t.Error("invalid submissions must not write rows")
	}
}

func TestRecommendProxiesBackend(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodPost, "/recommend", `{"mission":"clean water"}`, allowedOrigin, "203.0.113.7")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"grants":["G1"]}` {
		t.Errorf("body = %q, want backend body unchanged", got)
	}
}

func TestRecommendRateLimited(t *testing.T) {
	f := newGatewayFixture(t)

	for i := 0; i < 10; i++ {
		rec := f.do(http.MethodPost, "/recommend", `{"mission":"m"}`, allowedOrigin, "203.0.113.7")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := f.do(http.MethodPost, "/recommend", `{"mission":"m"}`, allowedOrigin, "203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request status = %d, want 429", rec.Code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	f := newGatewayFixture(t)
	f.store.err = errors.New("connection refused")

	for i := 0; i < 50; i++ {
		rec := f.do(http.MethodPost, "/recommend", `{"mission":"m"}`, allowedOrigin, "203.0.113.7")
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d rate limited despite store outage", i+1)
		}
	}
}

func TestFeedbackStats(t *testing.T) {
	f := newGatewayFixture(t)
	f.repo.stats = []models.GrantStats{
		{GrantID: "G1", ThumbsUp: 2, ThumbsDown: 1, Total: 3},
		{GrantID: "G2", ThumbsUp: 0, ThumbsDown: 1, Total: 1},
	}

	rec := f.do(http.MethodGet, "/feedback/stats", "", allowedOrigin, "203.0.113.7")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Stats []models.GrantStats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Stats) != 2 || body.Stats[0].GrantID != "G1" {
		t.Errorf("stats = %+v, want G1 first", body.Stats)
	}
}

func TestHealthzWithoutChecker(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodGet, "/healthz", "", "", "203.0.113.7")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNotFoundIsJSONWithCORS(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodGet, "/nope", "", allowedOrigin, "203.0.113.7")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != allowedOrigin {
		t.Errorf("Allow-Origin = %q, want CORS headers on 404s", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("404 body is not JSON: %v", err)
	}
}

func TestChallengeGateRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t)

	// Rebuild with a configured verifier so the challenge gate is active.
	verifySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true}`))
	}))
	t.Cleanup(verifySrv.Close)

	origins := policy.NewOriginPolicy([]string{allowedOrigin})
	verifier := policy.NewChallengeVerifier("secret", verifySrv.URL, time.Second)
	limiter := ratelimit.NewLimiter(f.store, true, time.Minute, map[string]int64{ActionRecommend: 10})
	anonymizer := session.NewAnonymizer("test-salt")
	feedback := service.NewFeedbackService(f.repo, anonymizer, nil, 100)
	recommend := service.NewRecommendService(f.backend.URL, "secret-key", time.Second)

	gateway := NewGatewayHandler(origins, verifier, limiter, anonymizer, feedback, recommend, nil, nil, false)
	router := NewRouter(gateway, origins, 1<<20, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/recommend", strings.NewReader(`{"mission":"m"}`))
	req.Header.Set("Origin", allowedOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without a challenge token", rec.Code)
	}

	// Same request with a token passes.
	req = httptest.NewRequest(http.MethodPost, "/recommend", strings.NewReader(`{"mission":"m"}`))
	req.Header.Set("Origin", allowedOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ChallengeTokenHeader, "tok-123")
	req.RemoteAddr = "203.0.113.7:51234"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}
