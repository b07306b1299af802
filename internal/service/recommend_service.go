package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/metrics"
	"grant-gateway/internal/util"
)

const recommendPath = "/api/recommend"

// RecommendService forwards recommendation requests to the backend scoring
// API, attaching a server-held bearer credential the browser never sees. The
// body and status come back verbatim; the gateway does not retry, transform,
// or cache backend responses.
type RecommendService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewRecommendService(baseURL, apiKey string, timeout time.Duration) *RecommendService {
	return &RecommendService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// ProxyResponse is the backend's reply, passed through unchanged.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forward sends the raw request body to the backend. A transport failure
// returns an error which the handler maps to 502.
func (s *RecommendService) Forward(ctx context.Context, body []byte, contentType string) (*ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+recommendPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.UpstreamDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		util.Warn("backend request failed", zap.Error(err))
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.UpstreamDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	return &ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
