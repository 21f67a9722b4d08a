package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/ballot"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/credential"
	"github.com/sosialistaflokkurinn/ekklesia-sub005/internal/election"
)

func TestRecorderCastWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	hash := credential.HashRaw("raw-1")
	mock.ExpectBegin()
	mock.ExpectQuery("select election_id, expires_at, used").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"election_id", "expires_at", "used"}).
			AddRow("vote-2025", time.Now().Add(time.Hour), false))
	mock.ExpectExec("update credential_registry").
		WithArgs(hash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into ballots").
		WithArgs(sqlmock.AnyArg(), "vote-2025", "yes", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	b, err := NewRecorderStore(db).Cast(context.Background(), "raw-1", "vote-2025", election.AnswerYes)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if b.ID == "" || b.Answer != election.AnswerYes || b.CastAt.IsZero() {
		t.Fatalf("unexpected ballot: %#v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderCastLosesToEarlierRedemption(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	hash := credential.HashRaw("raw-1")
	mock.ExpectBegin()
	mock.ExpectQuery("select election_id, expires_at, used").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"election_id", "expires_at", "used"}).
			AddRow("vote-2025", time.Now().Add(time.Hour), true))
	mock.ExpectRollback()

	if _, err := NewRecorderStore(db).Cast(context.Background(), "raw-1", "vote-2025", election.AnswerNo); !errors.Is(err, ballot.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderCastUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("select election_id, expires_at, used").
		WithArgs(credential.HashRaw("raw-1")).
		WillReturnRows(sqlmock.NewRows([]string{"election_id", "expires_at", "used"}))
	mock.ExpectRollback()

	if _, err := NewRecorderStore(db).Cast(context.Background(), "raw-1", "vote-2025", election.AnswerYes); !errors.Is(err, ballot.ErrUnknownCredential) {
		t.Fatalf("expected ErrUnknownCredential, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderCastElectionMismatchLooksUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("select election_id, expires_at, used").
		WithArgs(credential.HashRaw("raw-1")).
		WillReturnRows(sqlmock.NewRows([]string{"election_id", "expires_at", "used"}).
			AddRow("other-vote", time.Now().Add(time.Hour), false))
	mock.ExpectRollback()

	if _, err := NewRecorderStore(db).Cast(context.Background(), "raw-1", "vote-2025", election.AnswerYes); !errors.Is(err, ballot.ErrUnknownCredential) {
		t.Fatalf("expected ErrUnknownCredential, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderCastExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("select election_id, expires_at, used").
		WithArgs(credential.HashRaw("raw-1")).
		WillReturnRows(sqlmock.NewRows([]string{"election_id", "expires_at", "used"}).
			AddRow("vote-2025", time.Now().Add(-time.Minute), false))
	mock.ExpectRollback()

	if _, err := NewRecorderStore(db).Cast(context.Background(), "raw-1", "vote-2025", election.AnswerYes); !errors.Is(err, ballot.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderRegisterIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expires := time.Now().Add(time.Hour).UTC()
	mock.ExpectExec("insert into credential_registry").
		WithArgs("hash-1", "vote-2025", expires).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// Retry: the conflict clause swallows the insert, the election matches.
	mock.ExpectExec("insert into credential_registry").
		WithArgs("hash-1", "vote-2025", expires).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select election_id from credential_registry").
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"election_id"}).AddRow("vote-2025"))

	store := NewRecorderStore(db)
	if err := store.Register(context.Background(), "hash-1", "vote-2025", expires); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := store.Register(context.Background(), "hash-1", "vote-2025", expires); err != nil {
		t.Fatalf("idempotent register: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderRegisterConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expires := time.Now().Add(time.Hour).UTC()
	mock.ExpectExec("insert into credential_registry").
		WithArgs("hash-1", "other-vote", expires).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select election_id from credential_registry").
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"election_id"}).AddRow("vote-2025"))

	if err := NewRecorderStore(db).Register(context.Background(), "hash-1", "other-vote", expires); !errors.Is(err, ballot.ErrRegistryConflict) {
		t.Fatalf("expected ErrRegistryConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderTally(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select answer, count").
		WithArgs("vote-2025").
		WillReturnRows(sqlmock.NewRows([]string{"answer", "count"}).
			AddRow("yes", 12).
			AddRow("no", 3))

	tally, err := NewRecorderStore(db).Tally(context.Background(), "vote-2025")
	if err != nil {
		t.Fatalf("Tally: %v", err)
	}
	if tally.Counts[election.AnswerYes] != 12 || tally.Counts[election.AnswerNo] != 3 {
		t.Fatalf("unexpected counts: %#v", tally.Counts)
	}
	// Absent answers stay zero-filled.
	if tally.Counts[election.AnswerAbstain] != 0 {
		t.Fatalf("abstain = %d, want 0", tally.Counts[election.AnswerAbstain])
	}
	if tally.Total() != 15 {
		t.Fatalf("total = %d, want 15", tally.Total())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorderListRedeemed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	usedAt := time.Now().UTC()
	mock.ExpectQuery("select credential_hash, used_at").
		WithArgs("vote-2025").
		WillReturnRows(sqlmock.NewRows([]string{"credential_hash", "used_at"}).
			AddRow("hash-1", usedAt))

	redeemed, err := NewRecorderStore(db).ListRedeemed(context.Background(), "vote-2025")
	if err != nil {
		t.Fatalf("ListRedeemed: %v", err)
	}
	if len(redeemed) != 1 || !redeemed["hash-1"].Equal(usedAt) {
		t.Fatalf("unexpected redeemed map: %#v", redeemed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
