package httpapi

import (
	"net/http"
	"strings"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/audit"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/trustednet"
)

const (
	// DefaultMarkerHeader is set by the edge proxy on every forwarded
	// request and is absent from direct-origin traffic.
	DefaultMarkerHeader = "CF-Ray"

	// BypassHeader carries the secret for the non-production bypass.
	BypassHeader = "X-Origin-Bypass"
)

// OriginGuardConfig configures edge-origin enforcement.
type OriginGuardConfig struct {
	// MarkerHeader is the trusted-edge marker. Defaults to CF-Ray.
	MarkerHeader string
	// Edge is the allowlist of edge provider source ranges. An empty or
	// nil allowlist rejects everything: the guard fails closed.
	Edge *trustednet.Network
	// NonProduction enables the secret-gated bypass for local development
	// and staging. Never set in production.
	NonProduction bool
	// BypassSecret must match the BypassHeader value for a bypass to be
	// honored. An empty secret disables the bypass even off production.
	BypassSecret string
	// ExemptPaths and ExemptPrefixes skip the guard, e.g. health probes
	// and the /s2s surface, which authenticates with the static key and
	// does not traverse the edge.
	ExemptPaths    []string
	ExemptPrefixes []string
}

// OriginGuard rejects requests that did not arrive through the trusted edge
// proxy. The edge enforces rate limiting and bot mitigation only for traffic
// that passes through it; without this guard an attacker who finds the
// service's direct address defeats all of that. Both the marker header and
// the peer address must check out.
func OriginGuard(cfg OriginGuardConfig, next http.Handler) http.Handler {
	marker := cfg.MarkerHeader
	if marker == "" {
		marker = DefaultMarkerHeader
	}
	exemptPaths := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exemptPaths[p] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range cfg.ExemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		if cfg.NonProduction && cfg.BypassSecret != "" &&
			r.Header.Get(BypassHeader) == cfg.BypassSecret {
			next.ServeHTTP(w, r)
			return
		}

		markerPresent := strings.TrimSpace(r.Header.Get(marker)) != ""
		peer := peerIP(r)
		peerTrusted := cfg.Edge.ContainsString(peer)

		if markerPresent && peerTrusted {
			next.ServeHTTP(w, r)
			return
		}

		obs.CountOriginRejection()
		_ = audit.LogEvent(r.Context(), "origin.rejected", map[string]any{
			"peer_ip":        peer,
			"marker_present": markerPresent,
			"peer_trusted":   peerTrusted,
			"method":         r.Method,
			"path":           r.URL.Path,
			"user_agent":     r.UserAgent(),
		})
		// Uniform body: callers learn nothing about which check failed.
		writeError(w, r, http.StatusForbidden, "direct access not allowed")
	})
}
