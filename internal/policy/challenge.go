package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grant-gateway/internal/util"
)

// ChallengeVerifier checks a client-supplied anti-automation token against an
// external verification service. With no secret configured the verifier is
// disabled and every request passes; once a secret is set, any missing token,
// transport error, or negative verdict fails the check.
type ChallengeVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewChallengeVerifier creates a verifier. An empty secret disables
// verification entirely.
func NewChallengeVerifier(secret, verifyURL string, timeout time.Duration) *ChallengeVerifier {
	return &ChallengeVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a verification secret is configured.
func (v *ChallengeVerifier) Enabled() bool {
	return v.secret != ""
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns true iff the token passes verification. remoteIP is optional
// and forwarded to the verification service when present. All failures are
// logged and collapsed into a false verdict; the verdict is never cached and
// failed verifications are never retried.
func (v *ChallengeVerifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if !v.Enabled() {
		return true
	}
	if token == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		util.Error("failed to build challenge verification request", util.ErrorField(err))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		util.Warn("challenge verification call failed", util.ErrorField(err))
		return false
	}
	defer resp.Body.Close()

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		util.Warn("failed to decode challenge verification response", util.ErrorField(err))
		return false
	}

	if !result.Success {
		util.Debug("challenge verification rejected",
			util.String("error_codes", strings.Join(result.ErrorCodes, ",")))
	}
	return result.Success
}
