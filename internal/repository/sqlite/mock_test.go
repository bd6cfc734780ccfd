package sqlite_test

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	dbpkg "github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/internal/models"
	sqlite "github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

func mockRepo(t *testing.T) (*sqlite.SQLiteRepo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		conn.Close()
	})
	return sqlite.New(dbpkg.FromConn(conn, nil), nil), mock
}

func TestMock_GetCandidateQueryError(t *testing.T) {
	r, mock := mockRepo(t)
	mock.ExpectQuery("SELECT .* FROM candidates WHERE id = ?").
		WithArgs(int64(7)).
		WillReturnError(errors.New("disk I/O error"))

	c, err := r.GetCandidate(context.Background(), 7)
	if err == nil || c != nil {
		t.Fatalf("expected error, got %v %v", c, err)
	}
	if !strings.Contains(err.Error(), "get candidate") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestMock_NextQueuePositionScanError(t *testing.T) {
	r, mock := mockRepo(t)
	mock.ExpectQuery("UPDATE queue_counter SET value = value \\+ 1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := r.NextQueuePosition(context.Background()); err == nil {
		t.Fatalf("expected error when the counter row is missing")
	}
}

func TestMock_InTxRollsBackOnFailure(t *testing.T) {
	r, mock := mockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := r.InTx(context.Background(), func(s repository.Store) error {
		_, err := s.CreatePayment(context.Background(), &models.Payment{CandidateID: 1, Kind: models.PaymentEntryFee, ProviderRef: "pi_x"})
		return err
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, repository.ErrConflict) {
		t.Fatalf("a lock error must not be reported as a conflict: %v", err)
	}
}

func TestMock_InTxCommitError(t *testing.T) {
	r, mock := mockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments SET status").
		WithArgs(string(models.PaymentRefunded), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("commit failed"))

	err := r.InTx(context.Background(), func(s repository.Store) error {
		return s.UpdatePaymentStatus(context.Background(), 3, models.PaymentRefunded)
	})
	if err == nil {
		t.Fatalf("expected commit error")
	}
}

func TestMock_CountDeadLettersError(t *testing.T) {
	r, mock := mockRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dead_letter_jobs").WillReturnError(errors.New("no such table"))

	if _, err := r.CountDeadLetters(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
