package credential

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by the
// issuer in tests and local development; production runs on Postgres.
type InMemory struct {
	mu     sync.RWMutex
	byHash map[string]*Credential
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty credential store.
func NewInMemory() *InMemory {
	return &InMemory{byHash: make(map[string]*Credential)}
}

func (s *InMemory) Create(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for hash, existing := range s.byHash {
		if existing.VoterKey != cred.VoterKey || existing.ElectionID != cred.ElectionID {
			continue
		}
		if existing.Redeemed || !existing.Expired(now) {
			return ErrAlreadyIssued
		}
		// Expired and never redeemed: the fresh credential replaces it.
		delete(s.byHash, hash)
	}
	stored := cred
	s.byHash[cred.CredentialHash] = &stored
	return nil
}

func (s *InMemory) Delete(ctx context.Context, credentialHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byHash, credentialHash)
	return nil
}

func (s *InMemory) MarkRedeemed(ctx context.Context, credentialHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byHash[credentialHash]
	if !ok {
		return ErrNotFound
	}
	if cred.Redeemed {
		return nil
	}
	cred.Redeemed = true
	redeemedAt := at.UTC()
	cred.RedeemedAt = &redeemedAt
	return nil
}

func (s *InMemory) GetByVoter(ctx context.Context, voterKey, electionID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cred := range s.byHash {
		if cred.VoterKey == voterKey && cred.ElectionID == electionID {
			return *cred, nil
		}
	}
	return Credential{}, ErrNotFound
}

func (s *InMemory) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for hash, cred := range s.byHash {
		if !cred.Redeemed && before.After(cred.ExpiresAt) {
			delete(s.byHash, hash)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemory) Reset(ctx context.Context, electionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for hash, cred := range s.byHash {
		if cred.ElectionID == electionID {
			delete(s.byHash, hash)
			removed++
		}
	}
	return removed, nil
}
