package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"log/slog"

	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	q      querier
	inTx   bool
	depth  int
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.CandidateRepo = (*SQLiteRepo)(nil)
var _ repository.JobRequestRepo = (*SQLiteRepo)(nil)
var _ repository.OfferRepo = (*SQLiteRepo)(nil)
var _ repository.PaymentRepo = (*SQLiteRepo)(nil)
var _ repository.ContractRepo = (*SQLiteRepo)(nil)
var _ repository.JobRepo = (*SQLiteRepo)(nil)
var _ repository.Store = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, q: conn.GetConn(), logger: logger}
}

// InTx runs fn with a repo bound to one transaction. Nested calls use a
// savepoint on the outer transaction.
func (r *SQLiteRepo) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if r.inTx {
		return r.savepoint(ctx, fn)
	}
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&SQLiteRepo{conn: r.conn, q: tx, inTx: true, logger: r.logger})
	})
}

func (r *SQLiteRepo) savepoint(ctx context.Context, fn func(repository.Store) error) error {
	nested := &SQLiteRepo{conn: r.conn, q: r.q, inTx: true, depth: r.depth + 1, logger: r.logger}
	name := fmt.Sprintf("sp_%d", nested.depth)

	if _, err := r.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return errors.Wrap(err, "savepoint")
	}
	if err := fn(nested); err != nil {
		if _, rbErr := r.q.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			r.logger.Warn("rollback to savepoint failed", "savepoint", name, "err", rbErr)
		}
		if _, relErr := r.q.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			r.logger.Warn("release savepoint failed", "savepoint", name, "err", relErr)
		}
		return err
	}
	if _, err := r.q.ExecContext(ctx, "RELEASE "+name); err != nil {
		return errors.Wrap(err, "release savepoint")
	}
	return nil
}

// mapErr turns constraint violations into repository.ErrConflict so callers
// can tell a lost race from an I/O failure.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return errors.Mark(errors.Wrap(err, op), repository.ErrConflict)
	}
	return errors.Wrap(err, op)
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
