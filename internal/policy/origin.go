package policy

import "net/http"

// Header names and static values advertised on every response.
const (
	allowedMethods = "POST, GET, OPTIONS"
	allowedHeaders = "Content-Type, X-Challenge-Token"
)

// OriginPolicy computes CORS response headers against a fixed allow-list and
// answers whether a declared origin may pass the origin gate.
type OriginPolicy struct {
	allowed []string
}

// NewOriginPolicy builds a policy from a non-empty allow-list. The first entry
// doubles as the fallback value emitted when the request origin is not listed.
func NewOriginPolicy(allowed []string) *OriginPolicy {
	return &OriginPolicy{allowed: allowed}
}

// Allowed reports whether the origin is an exact allow-list match. An empty
// origin is never allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range p.allowed {
		if o == origin {
			return true
		}
	}
	return false
}

// ResolveOrigin returns the value for the Access-Control-Allow-Origin header:
// the request origin when listed, otherwise the first allow-list entry. The
// fallback does not grant the caller access; browsers reject the mismatch and
// route handlers enforce Allowed separately.
func (p *OriginPolicy) ResolveOrigin(origin string) string {
	if p.Allowed(origin) {
		return origin
	}
	if len(p.allowed) == 0 {
		return ""
	}
	return p.allowed[0]
}

// ApplyHeaders merges the CORS header set for the given request origin into
// the response. Called on every response, including preflight and errors, so
// the browser can always read the body.
func (p *OriginPolicy) ApplyHeaders(h http.Header, origin string) {
	if resolved := p.ResolveOrigin(origin); resolved != "" {
		h.Set("Access-Control-Allow-Origin", resolved)
	}
	h.Set("Access-Control-Allow-Methods", allowedMethods)
	h.Set("Access-Control-Allow-Headers", allowedHeaders)
	h.Set("Vary", "Origin")
}
