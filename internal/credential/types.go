package credential

import (
	"context"
	"errors"
	"time"
)

// Credential is the issuer's record of one voting credential. The raw secret
// is never part of this struct; only its hash is retained anywhere.
type Credential struct {
	VoterKey       string     `json:"voter_key"`
	ElectionID     string     `json:"election_id"`
	CredentialHash string     `json:"credential_hash"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Redeemed       bool       `json:"redeemed"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty"`
}

// Expired reports whether the credential's validity window has passed.
func (c Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

var (
	// ErrAlreadyIssued is returned when a voter already holds a live
	// credential for the election. Reissuing would hand out two usable
	// raw values, so the first issuance wins.
	ErrAlreadyIssued = errors.New("credential: already issued")

	// ErrElectionNotOpen is returned when the election is not accepting
	// issuance.
	ErrElectionNotOpen = errors.New("credential: election not open")

	// ErrNotFound is returned when no credential matches the query.
	ErrNotFound = errors.New("credential: not found")

	// ErrRegistrationFailed is returned when the recorder could not be
	// reached or refused the registration. The local persist has been
	// rolled back; the voter may retry.
	ErrRegistrationFailed = errors.New("credential: registration failed")
)

// Store persists issuer-side credential records. Implementations must enforce
// at most one live credential per (voter_key, election_id) with a uniqueness
// guarantee in the store itself, so two concurrent requests for the same
// voter cannot both succeed.
type Store interface {
	// Create persists a new credential, returning ErrAlreadyIssued when a
	// live credential already exists for the voter and election.
	Create(ctx context.Context, cred Credential) error
	// Delete removes a credential by hash. Used to roll back the local
	// persist when S2S registration fails.
	Delete(ctx context.Context, credentialHash string) error
	// MarkRedeemed flips the redeemed flag once; later calls with the same
	// hash are no-ops. The flag is display/audit state only.
	MarkRedeemed(ctx context.Context, credentialHash string, at time.Time) error
	// GetByVoter returns the voter's credential for an election.
	GetByVoter(ctx context.Context, voterKey, electionID string) (Credential, error)
	// DeleteExpired removes expired, never-redeemed credentials issued
	// before the cutoff and returns how many rows went away.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	// Reset removes every credential for an election. Explicit, audited
	// operator action only.
	Reset(ctx context.Context, electionID string) (int, error)
}

// Registrar registers credential hashes with the ballot recorder. Satisfied
// by the S2S client.
type Registrar interface {
	RegisterCredential(ctx context.Context, credentialHash, electionID string, expiresAt time.Time) error
}
