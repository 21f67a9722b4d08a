package ballot

import (
	"context"
	"errors"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
)

// RegistryEntry is the recorder's view of one credential: a hash, its expiry,
// and whether it has been spent. There is deliberately no field that could
// join back to a voter identity.
type RegistryEntry struct {
	CredentialHash string     `json:"credential_hash"`
	ElectionID     string     `json:"election_id"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Used           bool       `json:"used"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}

// Ballot is one recorded vote. Immutable after insertion and never exposed
// individually, only in aggregate.
type Ballot struct {
	ID         string          `json:"id"`
	ElectionID string          `json:"election_id"`
	Answer     election.Answer `json:"answer"`
	CastAt     time.Time       `json:"cast_at"`
}

// Tally is the aggregate result of an election. Every valid answer appears,
// zero-filled, so consumers need no nil checks.
type Tally struct {
	ElectionID string                  `json:"election_id"`
	Counts     map[election.Answer]int `json:"counts"`
}

// NewTally returns a zero-filled tally for the election.
func NewTally(electionID string) Tally {
	counts := make(map[election.Answer]int, len(election.Answers()))
	for _, a := range election.Answers() {
		counts[a] = 0
	}
	return Tally{ElectionID: electionID, Counts: counts}
}

// Total is the number of ballots across all answers.
func (t Tally) Total() int {
	var n int
	for _, c := range t.Counts {
		n += c
	}
	return n
}

var (
	// ErrUnknownCredential is returned when no registry entry matches the
	// presented credential's hash.
	ErrUnknownCredential = errors.New("ballot: unknown credential")

	// ErrAlreadyUsed is returned when the credential was already spent.
	ErrAlreadyUsed = errors.New("ballot: credential already used")

	// ErrExpired is returned when the credential's registered validity
	// window has passed.
	ErrExpired = errors.New("ballot: credential expired")

	// ErrRegistryConflict is returned when a hash is re-registered with
	// different parameters. Idempotent retries never hit this; any
	// occurrence is a bug on the issuer side.
	ErrRegistryConflict = errors.New("ballot: registry conflict")
)

// Service defines recorder operations. Implementations must make Cast atomic
// at the storage layer: when N redemption attempts race on one hash, exactly
// one may win, even across recorder instances.
type Service interface {
	// Register adds a credential hash to the registry. Idempotent: a second
	// registration with identical arguments succeeds without side effect.
	Register(ctx context.Context, credentialHash, electionID string, expiresAt time.Time) error
	// Cast redeems a raw credential for one ballot. On success the registry
	// entry is marked used and the ballot inserted in one transaction.
	Cast(ctx context.Context, rawCredential, electionID string, answer election.Answer) (Ballot, error)
	// Tally aggregates ballots per answer for one election.
	Tally(ctx context.Context, electionID string) (Tally, error)
	// ListRedeemed returns used credential hashes and their redemption
	// times for the issuer's reconciliation pull.
	ListRedeemed(ctx context.Context, electionID string) (map[string]time.Time, error)
}
