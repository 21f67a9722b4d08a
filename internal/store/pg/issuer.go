package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
)

// IssuerStore implements credential.Store. The unique constraint on
// (voter_key, election_id) closes the check-then-create race: when two
// requests for the same voter arrive concurrently, one insert loses and is
// reported as already issued.
type IssuerStore struct {
	db *sql.DB
}

var _ credential.Store = (*IssuerStore)(nil)

// NewIssuerStore wraps an open connection pool.
func NewIssuerStore(db *sql.DB) *IssuerStore {
	return &IssuerStore{db: db}
}

func (s *IssuerStore) Create(ctx context.Context, cred credential.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		existingHash string
		expiresAt    time.Time
		redeemed     bool
	)
	err = tx.QueryRowContext(ctx, `
		select credential_hash, expires_at, redeemed
		from credentials
		where voter_key = $1 and election_id = $2
		for update
	`, cred.VoterKey, cred.ElectionID).Scan(&existingHash, &expiresAt, &redeemed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No live credential; fall through to insert.
	case err != nil:
		return err
	default:
		if redeemed || time.Now().UTC().Before(expiresAt) {
			return credential.ErrAlreadyIssued
		}
		// Expired and never redeemed: replace in place.
		if _, err := tx.ExecContext(ctx, `
			update credentials
			set credential_hash = $1, issued_at = $2, expires_at = $3,
			    redeemed = false, redeemed_at = null
			where voter_key = $4 and election_id = $5
		`, cred.CredentialHash, cred.IssuedAt, cred.ExpiresAt, cred.VoterKey, cred.ElectionID); err != nil {
			return err
		}
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		insert into credentials(credential_hash, voter_key, election_id, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, cred.CredentialHash, cred.VoterKey, cred.ElectionID, cred.IssuedAt, cred.ExpiresAt); err != nil {
		if isUniqueViolation(err) {
			return credential.ErrAlreadyIssued
		}
		return err
	}
	return tx.Commit()
}

func (s *IssuerStore) Delete(ctx context.Context, credentialHash string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from credentials where credential_hash = $1`, credentialHash)
	return err
}

func (s *IssuerStore) MarkRedeemed(ctx context.Context, credentialHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update credentials
		set redeemed = true, redeemed_at = $2
		where credential_hash = $1 and redeemed = false
	`, credentialHash, at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from credentials where credential_hash = $1)`,
			credentialHash).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return credential.ErrNotFound
		}
	}
	return nil
}

func (s *IssuerStore) GetByVoter(ctx context.Context, voterKey, electionID string) (credential.Credential, error) {
	var (
		cred       credential.Credential
		redeemedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select credential_hash, voter_key, election_id, issued_at, expires_at, redeemed, redeemed_at
		from credentials
		where voter_key = $1 and election_id = $2
	`, voterKey, electionID).Scan(
		&cred.CredentialHash, &cred.VoterKey, &cred.ElectionID,
		&cred.IssuedAt, &cred.ExpiresAt, &cred.Redeemed, &redeemedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, err
	}
	if redeemedAt.Valid {
		t := redeemedAt.Time
		cred.RedeemedAt = &t
	}
	return cred, nil
}

func (s *IssuerStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from credentials
		where redeemed = false and expires_at < $1
	`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *IssuerStore) Reset(ctx context.Context, electionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from credentials where election_id = $1`, electionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
