package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/audit"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/obs"
)

// RedemptionReporter notifies the issuer that a credential was spent.
// Satisfied by the S2S client.
type RedemptionReporter interface {
	ReportRedemption(ctx context.Context, credentialHash string, redeemedAt time.Time) error
}

// coarseRejection is the shared response for unknown and already-used
// credentials. Distinguishing the two would hand an attacker an oracle for
// probing which credential values exist.
const coarseRejection = "credential rejected"

// RecorderAPI is the identity-blind HTTP surface: it accepts ballots against
// registered credential hashes and serves aggregates. It never learns who a
// credential belongs to.
type RecorderAPI struct {
	mux        *http.ServeMux
	svc        ballot.Service
	reporter   RedemptionReporter
	elections  *election.Directory
	s2sKey     string
	guard      OriginGuardConfig
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int

	// reportTimeout bounds the fire-and-forget redemption report.
	reportTimeout time.Duration
}

// NewRecorderAPI assembles the recorder's routes.
func NewRecorderAPI(
	svc ballot.Service,
	reporter RedemptionReporter,
	elections *election.Directory,
	s2sKey string,
	guard OriginGuardConfig,
	probe ReadyProbe,
	version string,
) *RecorderAPI {
	a := &RecorderAPI{
		mux:           http.NewServeMux(),
		svc:           svc,
		reporter:      reporter,
		elections:     elections,
		s2sKey:        s2sKey,
		guard:         guard,
		readyProbe:    probe,
		version:       version,
		rateBurst:     50,
		ratePerSec:    25,
		reportTimeout: 30 * time.Second,
	}

	a.mux.HandleFunc("/healthz", healthz("ballot-recorder", version))
	a.mux.HandleFunc("/readyz", readyz(probe))
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/ballot", a.handleBallot)
	a.mux.HandleFunc("/v1/tally/", requireS2SKey(s2sKey, a.handleTally))
	a.mux.HandleFunc("/s2s/register-credential", requireS2SKey(s2sKey, a.handleRegister))
	a.mux.HandleFunc("/s2s/results", requireS2SKey(s2sKey, a.handleResults))
	a.mux.HandleFunc("/s2s/redeemed", requireS2SKey(s2sKey, a.handleRedeemed))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *RecorderAPI) Handler() http.Handler {
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

type castBallotRequest struct {
	Credential string `json:"credential"`
	ElectionID string `json:"election_id"`
	Answer     string `json:"answer"`
}

func (a *RecorderAPI) handleBallot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req castBallotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	electionID := strings.TrimSpace(req.ElectionID)
	if req.Credential == "" || electionID == "" {
		writeError(w, r, http.StatusBadRequest, "credential and election_id are required")
		return
	}
	answer, err := election.ParseAnswer(req.Answer)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "answer must be one of yes, no, abstain")
		return
	}
	if !a.elections.IsOpen(electionID) {
		obs.CountBallotCast("election_not_open")
		writeError(w, r, http.StatusConflict, "election is not open for voting")
		return
	}

	b, err := a.svc.Cast(r.Context(), req.Credential, electionID, answer)
	switch {
	case errors.Is(err, ballot.ErrUnknownCredential), errors.Is(err, ballot.ErrAlreadyUsed):
		obs.CountBallotCast("rejected")
		_ = audit.LogEvent(r.Context(), "ballot.rejected", map[string]any{
			"election_id": electionID,
			"reason":      rejectionReason(err),
		})
		writeError(w, r, http.StatusConflict, coarseRejection)
		return
	case errors.Is(err, ballot.ErrExpired):
		obs.CountBallotCast("expired")
		_ = audit.LogEvent(r.Context(), "ballot.rejected", map[string]any{
			"election_id": electionID,
			"reason":      "expired",
		})
		writeError(w, r, http.StatusGone, "credential expired")
		return
	case err != nil:
		// A storage failure is retryable and must never masquerade as
		// "already used": a false already-used on a valid ballot would
		// silently disenfranchise the voter.
		obs.CountBallotCast("error")
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	obs.CountBallotCast("accepted")
	_ = audit.LogEvent(r.Context(), "ballot.accepted", map[string]any{
		"election_id": electionID,
	})

	if a.reporter != nil {
		hash := credential.HashRaw(req.Credential)
		go a.reportRedemption(hash, b.CastAt)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"status": "accepted"})
}

// reportRedemption tells the issuer the hash was spent. Best effort: the
// ballot is already durable, so a failed report is only logged and the
// issuer's reconciliation pull will pick it up.
func (a *RecorderAPI) reportRedemption(credentialHash string, castAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), a.reportTimeout)
	defer cancel()
	if err := a.reporter.ReportRedemption(ctx, credentialHash, castAt); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "redemption_report_failed",
			"error": err.Error(),
		})
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ballot.ErrUnknownCredential):
		return "unknown_credential"
	case errors.Is(err, ballot.ErrAlreadyUsed):
		return "already_used"
	default:
		return "unknown"
	}
}

func (a *RecorderAPI) handleTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	electionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tally/"), "/")
	if electionID == "" || strings.Contains(electionID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.writeTally(w, r, electionID)
}

type registerCredentialRequest struct {
	CredentialHash string    `json:"credential_hash"`
	ElectionID     string    `json:"election_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (a *RecorderAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CredentialHash == "" || strings.TrimSpace(req.ElectionID) == "" || req.ExpiresAt.IsZero() {
		writeError(w, r, http.StatusBadRequest, "credential_hash, election_id and expires_at are required")
		return
	}

	err := a.svc.Register(r.Context(), req.CredentialHash, req.ElectionID, req.ExpiresAt)
	switch {
	case errors.Is(err, ballot.ErrRegistryConflict):
		// Idempotent retries never land here; an actual conflict means the
		// issuer re-used a hash across elections. Surface it loudly.
		_ = audit.LogEvent(r.Context(), "registry.conflict", map[string]any{
			"election_id": req.ElectionID,
		})
		writeError(w, r, http.StatusConflict, "registry conflict")
		return
	case err != nil:
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "registered"})
}

func (a *RecorderAPI) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	electionID := strings.TrimSpace(r.URL.Query().Get("election_id"))
	if electionID == "" {
		writeError(w, r, http.StatusBadRequest, "election_id query parameter is required")
		return
	}
	a.writeTally(w, r, electionID)
}

func (a *RecorderAPI) writeTally(w http.ResponseWriter, r *http.Request, electionID string) {
	tally, err := a.svc.Tally(r.Context(), electionID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (a *RecorderAPI) handleRedeemed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	electionID := strings.TrimSpace(r.URL.Query().Get("election_id"))
	if electionID == "" {
		writeError(w, r, http.StatusBadRequest, "election_id query parameter is required")
		return
	}
	redeemed, err := a.svc.ListRedeemed(r.Context(), electionID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redeemed": redeemed})
}
