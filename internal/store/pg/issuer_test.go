package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
)

func newCred() credential.Credential {
	now := time.Now().UTC()
	return credential.Credential{
		VoterKey:       "voter-1",
		ElectionID:     "vote-2025",
		CredentialHash: "hash-1",
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestIssuerCreateInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cred := newCred()
	mock.ExpectBegin()
	mock.ExpectQuery("select credential_hash, expires_at, redeemed").
		WithArgs(cred.VoterKey, cred.ElectionID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("insert into credentials").
		WithArgs(cred.CredentialHash, cred.VoterKey, cred.ElectionID, cred.IssuedAt, cred.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := NewIssuerStore(db).Create(context.Background(), cred); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerCreateLiveCredentialRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cred := newCred()
	mock.ExpectBegin()
	mock.ExpectQuery("select credential_hash, expires_at, redeemed").
		WithArgs(cred.VoterKey, cred.ElectionID).
		WillReturnRows(sqlmock.NewRows([]string{"credential_hash", "expires_at", "redeemed"}).
			AddRow("older-hash", time.Now().Add(time.Hour), false))
	mock.ExpectRollback()

	if err := NewIssuerStore(db).Create(context.Background(), cred); !errors.Is(err, credential.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerCreateRedeemedCredentialRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cred := newCred()
	mock.ExpectBegin()
	mock.ExpectQuery("select credential_hash, expires_at, redeemed").
		WithArgs(cred.VoterKey, cred.ElectionID).
		WillReturnRows(sqlmock.NewRows([]string{"credential_hash", "expires_at", "redeemed"}).
			AddRow("older-hash", time.Now().Add(-time.Hour), true))
	mock.ExpectRollback()

	if err := NewIssuerStore(db).Create(context.Background(), cred); !errors.Is(err, credential.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerCreateReplacesExpiredUnredeemed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cred := newCred()
	mock.ExpectBegin()
	mock.ExpectQuery("select credential_hash, expires_at, redeemed").
		WithArgs(cred.VoterKey, cred.ElectionID).
		WillReturnRows(sqlmock.NewRows([]string{"credential_hash", "expires_at", "redeemed"}).
			AddRow("older-hash", time.Now().Add(-time.Hour), false))
	mock.ExpectExec("update credentials").
		WithArgs(cred.CredentialHash, cred.IssuedAt, cred.ExpiresAt, cred.VoterKey, cred.ElectionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewIssuerStore(db).Create(context.Background(), cred); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerCreateRaceLoserGetsAlreadyIssued(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cred := newCred()
	mock.ExpectBegin()
	mock.ExpectQuery("select credential_hash, expires_at, redeemed").
		WithArgs(cred.VoterKey, cred.ElectionID).
		WillReturnError(sql.ErrNoRows)
	// The concurrent winner committed between our select and insert; the
	// unique constraint reports it.
	mock.ExpectExec("insert into credentials").
		WithArgs(cred.CredentialHash, cred.VoterKey, cred.ElectionID, cred.IssuedAt, cred.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "credentials_voter_election_key"})
	mock.ExpectRollback()

	if err := NewIssuerStore(db).Create(context.Background(), cred); !errors.Is(err, credential.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerMarkRedeemed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec("update credentials").
		WithArgs("hash-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewIssuerStore(db).MarkRedeemed(context.Background(), "hash-1", at); err != nil {
		t.Fatalf("MarkRedeemed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerMarkRedeemedUnknownHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec("update credentials").
		WithArgs("missing", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := NewIssuerStore(db).MarkRedeemed(context.Background(), "missing", at); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerMarkRedeemedAlreadyRedeemedIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec("update credentials").
		WithArgs("hash-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := NewIssuerStore(db).MarkRedeemed(context.Background(), "hash-1", at); err != nil {
		t.Fatalf("MarkRedeemed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIssuerDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().UTC()
	mock.ExpectExec("delete from credentials").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewIssuerStore(db).DeleteExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("removed %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
