package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"grant-gateway/internal/audit"
	"grant-gateway/internal/metrics"
	"grant-gateway/internal/models"
	"grant-gateway/internal/policy"
	"grant-gateway/internal/ratelimit"
	"grant-gateway/internal/service"
	"grant-gateway/internal/session"
	"grant-gateway/internal/util"
)

// ChallengeTokenHeader carries the anti-automation token on gated routes.
const ChallengeTokenHeader = "X-Challenge-Token"

// Rate-limit action names. Each has its own counter and limit.
const (
	ActionRecommend = "recommend"
	ActionFeedback  = "feedback"
)

// HealthChecker reports whether required dependencies are reachable.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// GatewayHandler serves the gated routes. Every route runs the same ordered
// gates before its action: origin, then challenge, then rate limit. Cheaper
// gates go first so abusive traffic is rejected early.
type GatewayHandler struct {
	origins    *policy.OriginPolicy
	verifier   *policy.ChallengeVerifier
	limiter    *ratelimit.Limiter
	anonymizer *session.Anonymizer
	feedback   *service.FeedbackService
	recommend  *service.RecommendService
	recorder   *audit.Recorder
	health     HealthChecker

	challengeForFeedback bool
}

func NewGatewayHandler(
	origins *policy.OriginPolicy,
	verifier *policy.ChallengeVerifier,
	limiter *ratelimit.Limiter,
	anonymizer *session.Anonymizer,
	feedback *service.FeedbackService,
	recommend *service.RecommendService,
	recorder *audit.Recorder,
	health HealthChecker,
	challengeForFeedback bool,
) *GatewayHandler {
	return &GatewayHandler{
		origins:              origins,
		verifier:             verifier,
		limiter:              limiter,
		anonymizer:           anonymizer,
		feedback:             feedback,
		recommend:            recommend,
		recorder:             recorder,
		health:               health,
		challengeForFeedback: challengeForFeedback,
	}
}

// Recommend proxies a scoring request to the backend after all gates pass.
func (h *GatewayHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	if !h.runGates(w, r, ActionRecommend, true) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondWithError(w, r, ActionRecommend, http.StatusBadRequest, "failed to read request body")
		return
	}

	resp, err := h.recommend.Forward(r.Context(), body, r.Header.Get("Content-Type"))
	if err != nil {
		h.audit(r, ActionRecommend, models.OutcomeUpstreamError, err.Error())
		h.respondWithError(w, r, ActionRecommend, http.StatusBadGateway, "recommendation backend unavailable")
		return
	}

	h.audit(r, ActionRecommend, models.OutcomeAllowed, "")
	metrics.ObserveRequest(ActionRecommend, resp.StatusCode)

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// SubmitFeedback records one up/down vote.
func (h *GatewayHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !h.runGates(w, r, ActionFeedback, h.challengeForFeedback) {
		return
	}

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveRejection("validation")
		h.audit(r, ActionFeedback, models.OutcomeInvalidInput, "malformed JSON")
		h.respondWithError(w, r, ActionFeedback, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.feedback.Submit(r.Context(), &req, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrMissingGrantID) || errors.Is(err, service.ErrInvalidSignal) {
			metrics.ObserveRejection("validation")
			h.audit(r, ActionFeedback, models.OutcomeInvalidInput, err.Error())
			h.respondWithError(w, r, ActionFeedback, http.StatusBadRequest, err.Error())
			return
		}
		util.Error("feedback submission failed", zap.Error(err))
		h.respondWithError(w, r, ActionFeedback, http.StatusInternalServerError, "failed to record feedback")
		return
	}

	h.audit(r, ActionFeedback, models.OutcomeAllowed, "")

	status := http.StatusOK
	body := map[string]interface{}{"ok": true}
	if created {
		status = http.StatusCreated
		metrics.FeedbackWritesTotal.WithLabelValues("created").Inc()
	} else {
		body["updated"] = true
		metrics.FeedbackWritesTotal.WithLabelValues("updated").Inc()
	}
	h.respondWithJSON(w, r, ActionFeedback, status, body)
}

// FeedbackStats serves the aggregate read view. Origin-gated only: the
// response is a public aggregate and the query is collapsed server-side, so
// the challenge and rate-limit gates are deliberately skipped.
func (h *GatewayHandler) FeedbackStats(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(w, r, "stats") {
		return
	}

	stats, err := h.feedback.Stats(r.Context())
	if err != nil {
		util.Error("failed to load feedback stats", zap.Error(err))
		h.respondWithError(w, r, "stats", http.StatusInternalServerError, "failed to load stats")
		return
	}

	h.respondWithJSON(w, r, "stats", http.StatusOK, map[string]interface{}{"stats": stats})
}

// Healthz reports service health. Not origin-gated; load balancers hit it
// directly.
func (h *GatewayHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.health != nil && !h.health.IsHealthy(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","service":"grant-gateway"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"grant-gateway"}`))
}

// runGates enforces the ordered gates and writes the rejection response
// itself. Returns true when the request may proceed to its action.
func (h *GatewayHandler) runGates(w http.ResponseWriter, r *http.Request, action string, challengeRequired bool) bool {
	if !h.checkOrigin(w, r, action) {
		return false
	}

	if challengeRequired {
		token := r.Header.Get(ChallengeTokenHeader)
		if !h.verifier.Verify(r.Context(), token, clientIP(r)) {
			metrics.ObserveRejection("challenge")
			h.audit(r, action, models.OutcomeChallengeFailed, "")
			h.respondWithError(w, r, action, http.StatusForbidden, "challenge verification failed")
			return false
		}
	}

	if !h.limiter.Allow(r.Context(), action, clientIP(r)) {
		metrics.ObserveRejection("rate_limit")
		h.audit(r, action, models.OutcomeRateLimited, "")
		h.respondWithError(w, r, action, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return false
	}

	return true
}

func (h *GatewayHandler) checkOrigin(w http.ResponseWriter, r *http.Request, action string) bool {
	origin := r.Header.Get("Origin")
	if !h.origins.Allowed(origin) {
		metrics.ObserveRejection("origin")
		h.audit(r, action, models.OutcomeOriginDenied, origin)
		h.respondWithError(w, r, action, http.StatusForbidden, "origin not allowed")
		return false
	}
	return true
}

func (h *GatewayHandler) audit(r *http.Request, action, outcome, detail string) {
	h.recorder.Record(models.GatewayEvent{
		EventTime:   time.Now().UTC(),
		RequestID:   middleware.GetReqID(r.Context()),
		Route:       r.URL.Path,
		Action:      action,
		Outcome:     outcome,
		SessionHash: h.anonymizer.Hash(clientIP(r)),
		Origin:      r.Header.Get("Origin"),
		Detail:      detail,
	})
}

func (h *GatewayHandler) respondWithJSON(w http.ResponseWriter, r *http.Request, route string, status int, payload interface{}) {
	metrics.ObserveRequest(route, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

// respondWithError writes the standard error body. Messages stay generic;
// internal detail goes to the log, never the client.
func (h *GatewayHandler) respondWithError(w http.ResponseWriter, r *http.Request, route string, status int, message string) {
	h.respondWithJSON(w, r, route, status, map[string]string{"error": message})
}

// clientIP extracts the client address. The RealIP middleware has already
// folded trusted forwarding headers into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
