package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/audit"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
)

// Service implements credential issuance on top of a Store and an S2S
// Registrar. The storage layer owns the uniqueness guarantee; the service
// owns the issue-register-or-roll-back sequence.
type Service struct {
	store     Store
	registrar Registrar
	elections *election.Directory
	ttl       time.Duration
}

// NewService wires the issuer's dependencies together.
func NewService(store Store, registrar Registrar, elections *election.Directory, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:     store,
		registrar: registrar,
		elections: elections,
		ttl:       ttl,
	}
}

// Issue mints a credential for the voter, persists its hash, and registers
// the hash with the recorder. The raw value is returned only if every step
// succeeded; a registration failure rolls back the local persist so no
// orphaned, unregistered credential rows exist.
func (s *Service) Issue(ctx context.Context, voterKey, electionID string) (string, Credential, error) {
	if !s.elections.IsOpen(electionID) {
		return "", Credential{}, ErrElectionNotOpen
	}

	raw, err := NewRaw()
	if err != nil {
		return "", Credential{}, err
	}
	now := time.Now().UTC()
	cred := Credential{
		VoterKey:       voterKey,
		ElectionID:     electionID,
		CredentialHash: HashRaw(raw),
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.ttl),
	}

	if err := s.store.Create(ctx, cred); err != nil {
		return "", Credential{}, err
	}

	if err := s.registrar.RegisterCredential(ctx, cred.CredentialHash, electionID, cred.ExpiresAt); err != nil {
		// The caller may already have disconnected; the rollback must still
		// reach the store or the orphaned row blocks the voter until expiry.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := s.store.Delete(rbCtx, cred.CredentialHash); delErr != nil {
			// The row will be cleared by the expiry sweep; report the
			// original failure regardless.
			_ = audit.LogEvent(rbCtx, "credential.rollback_failed", map[string]any{
				"election_id": electionID,
				"error":       delErr.Error(),
			})
		}
		return "", Credential{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	_ = audit.LogEvent(ctx, "credential.issued", map[string]any{
		"election_id": electionID,
		"expires_at":  cred.ExpiresAt.Format(time.RFC3339),
	})
	return raw, cred, nil
}

// MarkRedeemed mirrors recorder-reported redemption status onto the local
// record. Display and audit state only; ballot validity lives solely on the
// recorder.
func (s *Service) MarkRedeemed(ctx context.Context, credentialHash string, at time.Time) error {
	return s.store.MarkRedeemed(ctx, credentialHash, at)
}

// SweepExpired clears expired, never-redeemed credentials so a voter whose
// credential lapsed unredeemed can request a fresh one while the election is
// still open.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = audit.LogEvent(ctx, "credential.expiry_sweep", map[string]any{"removed": n})
	}
	return n, nil
}

// ResetElection deletes every credential for an election. Explicit operator
// action; always audited.
func (s *Service) ResetElection(ctx context.Context, electionID string) (int, error) {
	n, err := s.store.Reset(ctx, electionID)
	if err != nil {
		return 0, err
	}
	_ = audit.LogEvent(ctx, "credential.election_reset", map[string]any{
		"election_id": electionID,
		"removed":     n,
	})
	return n, nil
}
