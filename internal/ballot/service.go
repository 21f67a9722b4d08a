package ballot

import (
	"context"
	"sync"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. Tests and
// local development only; production runs on Postgres, where the atomicity
// guarantee survives multiple recorder instances.
type InMemory struct {
	mu       sync.Mutex
	registry map[string]*RegistryEntry
	ballots  []Ballot
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty recorder.
func NewInMemory() *InMemory {
	return &InMemory{registry: make(map[string]*RegistryEntry)}
}

func (s *InMemory) Register(ctx context.Context, credentialHash, electionID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.registry[credentialHash]; ok {
		if existing.ElectionID != electionID {
			return ErrRegistryConflict
		}
		// Issuer retry after a lost ack; already registered.
		return nil
	}
	s.registry[credentialHash] = &RegistryEntry{
		CredentialHash: credentialHash,
		ElectionID:     electionID,
		ExpiresAt:      expiresAt.UTC(),
	}
	return nil
}

func (s *InMemory) Cast(ctx context.Context, rawCredential, electionID string, answer election.Answer) (Ballot, error) {
	hash := credential.HashRaw(rawCredential)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.registry[hash]
	if !ok || entry.ElectionID != electionID {
		return Ballot{}, ErrUnknownCredential
	}
	if entry.Used {
		return Ballot{}, ErrAlreadyUsed
	}
	now := time.Now().UTC()
	if now.After(entry.ExpiresAt) {
		return Ballot{}, ErrExpired
	}

	entry.Used = true
	usedAt := now
	entry.UsedAt = &usedAt

	b := Ballot{
		ID:         ids.New(),
		ElectionID: electionID,
		Answer:     answer,
		CastAt:     now,
	}
	s.ballots = append(s.ballots, b)
	return b, nil
}

func (s *InMemory) Tally(ctx context.Context, electionID string) (Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tally := NewTally(electionID)
	for _, b := range s.ballots {
		if b.ElectionID == electionID {
			tally.Counts[b.Answer]++
		}
	}
	return tally, nil
}

func (s *InMemory) ListRedeemed(ctx context.Context, electionID string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	redeemed := make(map[string]time.Time)
	for hash, entry := range s.registry {
		if entry.ElectionID == electionID && entry.Used && entry.UsedAt != nil {
			redeemed[hash] = *entry.UsedAt
		}
	}
	return redeemed, nil
}
