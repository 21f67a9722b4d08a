package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/audit"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/auth"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
)

// ResultsFetcher pulls aggregate tallies from the recorder. Satisfied by the
// S2S client.
type ResultsFetcher interface {
	FetchResults(ctx context.Context, electionID string) (ballot.Tally, error)
}

// IssuerAPI is the identity-aware HTTP surface: it knows voters, issues
// credentials, and mirrors redemption status. It never sees a ballot.
type IssuerAPI struct {
	mux        *http.ServeMux
	svc        *credential.Service
	sessions   *auth.SessionVerifier
	results    ResultsFetcher
	s2sKey     string
	guard      OriginGuardConfig
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// NewIssuerAPI assembles the issuer's routes.
func NewIssuerAPI(
	svc *credential.Service,
	sessions *auth.SessionVerifier,
	results ResultsFetcher,
	s2sKey string,
	guard OriginGuardConfig,
	probe ReadyProbe,
	version string,
) *IssuerAPI {
	a := &IssuerAPI{
		mux:        http.NewServeMux(),
		svc:        svc,
		sessions:   sessions,
		results:    results,
		s2sKey:     s2sKey,
		guard:      guard,
		readyProbe: probe,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", healthz("ballot-issuer", version))
	a.mux.HandleFunc("/readyz", readyz(probe))
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/credential", a.handleCredential)
	a.mux.HandleFunc("/v1/elections/", a.handleElections)
	a.mux.HandleFunc("/v1/admin/election-reset", requireS2SKey(s2sKey, a.handleElectionReset))
	a.mux.HandleFunc("/s2s/redemption", requireS2SKey(s2sKey, a.handleRedemptionReport))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *IssuerAPI) Handler() http.Handler {
	guard := a.guard
	guard.ExemptPaths = append(guard.ExemptPaths, "/healthz", "/readyz", "/metrics")
	guard.ExemptPrefixes = append(guard.ExemptPrefixes, "/s2s/")

	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = OriginGuard(guard, h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

type issueCredentialRequest struct {
	ElectionID string `json:"election_id"`
}

type issueCredentialResponse struct {
	Credential string    `json:"credential"`
	ElectionID string    `json:"election_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (a *IssuerAPI) handleCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, err := extractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	claims, err := a.sessions.Verify(token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	ctx := auth.ContextWithVoterKey(r.Context(), claims.VoterKey())

	var req issueCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	electionID := strings.TrimSpace(req.ElectionID)
	if electionID == "" {
		writeError(w, r, http.StatusBadRequest, "election_id is required")
		return
	}

	raw, cred, err := a.svc.Issue(ctx, claims.VoterKey(), electionID)
	switch {
	case errors.Is(err, credential.ErrElectionNotOpen):
		obs.CountCredentialIssued("election_not_open")
		writeError(w, r, http.StatusConflict, "election is not open for voting")
		return
	case errors.Is(err, credential.ErrAlreadyIssued):
		obs.CountCredentialIssued("already_issued")
		_ = audit.LogEvent(ctx, "credential.already_issued", map[string]any{
			"election_id": electionID,
		})
		writeError(w, r, http.StatusConflict, "credential already issued for this election")
		return
	case errors.Is(err, credential.ErrRegistrationFailed):
		obs.CountCredentialIssued("registration_failed")
		writeError(w, r, http.StatusBadGateway, "credential registration failed, try again")
		return
	case err != nil:
		obs.CountCredentialIssued("error")
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	obs.CountCredentialIssued("issued")
	// The raw value is shown exactly once and must never land in a cache.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issueCredentialResponse{
		Credential: raw,
		ElectionID: cred.ElectionID,
		ExpiresAt:  cred.ExpiresAt,
	})
}

func (a *IssuerAPI) handleElections(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/elections/")
	if !strings.HasSuffix(path, "/results") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	electionID := strings.TrimSuffix(strings.TrimSuffix(path, "/results"), "/")
	if electionID == "" || strings.Contains(electionID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	requireS2SKey(a.s2sKey, func(w http.ResponseWriter, r *http.Request) {
		tally, err := a.results.FetchResults(r.Context(), electionID)
		if err != nil {
			writeError(w, r, http.StatusBadGateway, "recorder unavailable")
			return
		}
		writeJSON(w, http.StatusOK, tally)
	})(w, r)
}

type redemptionReportRequest struct {
	CredentialHash string    `json:"credential_hash"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

func (a *IssuerAPI) handleRedemptionReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req redemptionReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CredentialHash == "" {
		writeError(w, r, http.StatusBadRequest, "credential_hash is required")
		return
	}
	redeemedAt := req.RedeemedAt
	if redeemedAt.IsZero() {
		redeemedAt = time.Now().UTC()
	}

	err := a.svc.MarkRedeemed(r.Context(), req.CredentialHash, redeemedAt)
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	// An unknown hash is acked too: the expiry sweep may have cleared the
	// row, and the reconciliation pull will not see it again either way.
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type electionResetRequest struct {
	ElectionID string `json:"election_id"`
}

func (a *IssuerAPI) handleElectionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req electionResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ElectionID) == "" {
		writeError(w, r, http.StatusBadRequest, "election_id is required")
		return
	}
	removed, err := a.svc.ResetElection(r.Context(), req.ElectionID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
