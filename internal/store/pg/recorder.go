package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ids"
)

// RecorderStore implements ballot.Service. The row lock on the registry entry
// serializes concurrent redemption attempts on the same hash: one transaction
// wins, the rest observe used = true. The guarantee lives in the database, so
// it holds across recorder instances.
type RecorderStore struct {
	db *sql.DB
}

var _ ballot.Service = (*RecorderStore)(nil)

// NewRecorderStore wraps an open connection pool.
func NewRecorderStore(db *sql.DB) *RecorderStore {
	return &RecorderStore{db: db}
}

func (s *RecorderStore) Register(ctx context.Context, credentialHash, electionID string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		insert into credential_registry(credential_hash, election_id, expires_at)
		values ($1, $2, $3)
		on conflict (credential_hash) do nothing
	`, credentialHash, electionID, expiresAt.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Duplicate registration: fine if it matches, a bug if it does not.
	var existingElection string
	if err := s.db.QueryRowContext(ctx,
		`select election_id from credential_registry where credential_hash = $1`,
		credentialHash).Scan(&existingElection); err != nil {
		return err
	}
	if existingElection != electionID {
		return ballot.ErrRegistryConflict
	}
	return nil
}

func (s *RecorderStore) Cast(ctx context.Context, rawCredential, electionID string, answer election.Answer) (ballot.Ballot, error) {
	hash := credential.HashRaw(rawCredential)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ballot.Ballot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		entryElection string
		expiresAt     time.Time
		used          bool
	)
	err = tx.QueryRowContext(ctx, `
		select election_id, expires_at, used
		from credential_registry
		where credential_hash = $1
		for update
	`, hash).Scan(&entryElection, &expiresAt, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return ballot.Ballot{}, ballot.ErrUnknownCredential
	}
	if err != nil {
		return ballot.Ballot{}, err
	}
	if entryElection != electionID {
		return ballot.Ballot{}, ballot.ErrUnknownCredential
	}
	if used {
		return ballot.Ballot{}, ballot.ErrAlreadyUsed
	}
	now := time.Now().UTC()
	if now.After(expiresAt) {
		return ballot.Ballot{}, ballot.ErrExpired
	}

	if _, err := tx.ExecContext(ctx, `
		update credential_registry
		set used = true, used_at = $2
		where credential_hash = $1
	`, hash, now); err != nil {
		return ballot.Ballot{}, err
	}

	b := ballot.Ballot{
		ID:         ids.New(),
		ElectionID: electionID,
		Answer:     answer,
		CastAt:     now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into ballots(id, election_id, answer, cast_at)
		values ($1, $2, $3, $4)
	`, b.ID, b.ElectionID, string(b.Answer), b.CastAt); err != nil {
		return ballot.Ballot{}, err
	}

	if err := tx.Commit(); err != nil {
		return ballot.Ballot{}, err
	}
	return b, nil
}

func (s *RecorderStore) Tally(ctx context.Context, electionID string) (ballot.Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		select answer, count(*)
		from ballots
		where election_id = $1
		group by answer
	`, electionID)
	if err != nil {
		return ballot.Tally{}, err
	}
	defer rows.Close()

	tally := ballot.NewTally(electionID)
	for rows.Next() {
		var (
			answer string
			count  int
		)
		if err := rows.Scan(&answer, &count); err != nil {
			return ballot.Tally{}, err
		}
		tally.Counts[election.Answer(answer)] = count
	}
	return tally, rows.Err()
}

func (s *RecorderStore) ListRedeemed(ctx context.Context, electionID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		select credential_hash, used_at
		from credential_registry
		where election_id = $1 and used = true
	`, electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	redeemed := make(map[string]time.Time)
	for rows.Next() {
		var (
			hash   string
			usedAt time.Time
		)
		if err := rows.Scan(&hash, &usedAt); err != nil {
			return nil, err
		}
		redeemed[hash] = usedAt
	}
	return redeemed, rows.Err()
}
