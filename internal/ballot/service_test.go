package ballot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
)

const electionID = "vote-2025-felagsfundur"

func register(t *testing.T, s Service, raw string) {
	t.Helper()
	err := s.Register(context.Background(), credential.HashRaw(raw), electionID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
}

func TestCastAndTally(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	register(t, s, "raw-1")
	register(t, s, "raw-2")

	b, err := s.Cast(ctx, "raw-1", electionID, election.AnswerYes)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == "" || b.Answer != election.AnswerYes {
		t.Fatalf("unexpected ballot: %#v", b)
	}
	if _, err := s.Cast(ctx, "raw-2", electionID, election.AnswerNo); err != nil {
		t.Fatal(err)
	}

	tally, err := s.Tally(ctx, electionID)
	if err != nil {
		t.Fatal(err)
	}
	if tally.Counts[election.AnswerYes] != 1 || tally.Counts[election.AnswerNo] != 1 || tally.Counts[election.AnswerAbstain] != 0 {
		t.Fatalf("unexpected tally: %#v", tally.Counts)
	}
	if tally.Total() != 2 {
		t.Fatalf("total = %d, want 2", tally.Total())
	}
}

func TestCastReplayRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	register(t, s, "raw-1")

	if _, err := s.Cast(ctx, "raw-1", electionID, election.AnswerYes); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Cast(ctx, "raw-1", electionID, election.AnswerNo); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}

	// The replay must not have changed the recorded vote.
	tally, _ := s.Tally(ctx, electionID)
	if tally.Counts[election.AnswerYes] != 1 || tally.Total() != 1 {
		t.Fatalf("tally changed after rejected replay: %#v", tally.Counts)
	}
}

func TestCastUnknownCredential(t *testing.T) {
	s := NewInMemory()
	if _, err := s.Cast(context.Background(), "never-issued", electionID, election.AnswerYes); !errors.Is(err, ErrUnknownCredential) {
		t.Fatalf("expected ErrUnknownCredential, got %v", err)
	}
}

func TestCastWrongElectionLooksUnknown(t *testing.T) {
	s := NewInMemory()
	register(t, s, "raw-1")
	if _, err := s.Cast(context.Background(), "raw-1", "other-election", election.AnswerYes); !errors.Is(err, ErrUnknownCredential) {
		t.Fatalf("expected ErrUnknownCredential, got %v", err)
	}
}

func TestCastExpiredCredential(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.Register(ctx, credential.HashRaw("raw-1"), electionID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Cast(ctx, "raw-1", electionID, election.AnswerYes); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	hash := credential.HashRaw("raw-1")
	expires := time.Now().Add(time.Hour)

	if err := s.Register(ctx, hash, electionID, expires); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(ctx, hash, electionID, expires); err != nil {
		t.Fatalf("re-register with same arguments must succeed, got %v", err)
	}
	if err := s.Register(ctx, hash, "other-election", expires); !errors.Is(err, ErrRegistryConflict) {
		t.Fatalf("expected ErrRegistryConflict, got %v", err)
	}
}

func TestConcurrentCastSameCredential(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	register(t, s, "raw-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Cast(ctx, "raw-1", electionID, election.AnswerYes); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d casts succeeded for one credential, want exactly 1", wins)
	}
	tally, _ := s.Tally(ctx, electionID)
	if tally.Total() != 1 {
		t.Fatalf("tally total = %d, want 1", tally.Total())
	}
}

func TestListRedeemed(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	register(t, s, "raw-1")
	register(t, s, "raw-2")

	if _, err := s.Cast(ctx, "raw-1", electionID, election.AnswerAbstain); err != nil {
		t.Fatal(err)
	}

	redeemed, err := s.ListRedeemed(ctx, electionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(redeemed) != 1 {
		t.Fatalf("expected 1 redeemed hash, got %d", len(redeemed))
	}
	at, ok := redeemed[credential.HashRaw("raw-1")]
	if !ok || at.IsZero() {
		t.Fatalf("redeemed map missing cast credential: %#v", redeemed)
	}
}
