package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

// Enqueue inserts a job into the jobs table and returns the new ID
func (r *SQLiteRepo) Enqueue(ctx context.Context, j *models.BackgroundJob) (int64, error) {
	if j == nil {
		return 0, errors.New("job is nil")
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	ts := now()
	scheduled := ts
	if !j.ScheduledAt.IsZero() {
		scheduled = toMillis(j.ScheduledAt)
	}
	q := `INSERT INTO jobs(type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated) VALUES(?,?,?,?,?,?,?,?,?)`
	res, err := r.q.ExecContext(ctx, q, j.Type, string(j.Payload), "queued", j.Attempts, j.MaxAttempts, j.Priority, scheduled, ts, ts)
	if err != nil {
		return 0, errors.Wrap(err, "enqueue failed")
	}

	return res.LastInsertId()
}

// FetchNext claims the next available job respecting priority and schedule.
// The claim flips the row to running in the same statement, so two workers
// never receive the same job.
func (r *SQLiteRepo) FetchNext(ctx context.Context) (*models.BackgroundJob, error) {
	ts := now()
	q := `UPDATE jobs SET status = 'running', updated = ?
		WHERE id = (SELECT id FROM jobs WHERE (status = 'queued' OR status = 'retry') AND (next_try_at IS NULL OR next_try_at <= ?) AND scheduled_at <= ? ORDER BY priority ASC, scheduled_at ASC, id ASC LIMIT 1)
		RETURNING id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated`
	row := r.q.QueryRowContext(ctx, q, ts, ts, ts)
	var (
		id          int64
		typ         string
		payload     sql.NullString
		status      string
		attempts    int
		maxAttempts int
		priority    int
		scheduledAt int64
		nextTry     sql.NullInt64
		lastError   sql.NullString
		created     int64
		updated     int64
	)
	if err := row.Scan(&id, &typ, &payload, &status, &attempts, &maxAttempts, &priority, &scheduledAt, &nextTry, &lastError, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "fetch next job")
	}

	j := &models.BackgroundJob{
		ID:          id,
		Type:        typ,
		Status:      status,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Priority:    priority,
		ScheduledAt: fromMillis(scheduledAt),
		NextTryAt:   timePtr(nextTry),
		Created:     fromMillis(created),
		Updated:     fromMillis(updated),
	}
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}

	return j, nil
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *SQLiteRepo) UpdateJob(ctx context.Context, j *models.BackgroundJob) error {
	q := `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, updated = ? WHERE id = ?`
	_, err := r.q.ExecContext(ctx, q, j.Status, j.Attempts, nullMillis(j.NextTryAt), j.LastError, now(), j.ID)

	return errors.Wrap(err, "update job")
}

// RequeueRunning flips every running job back to retry. A single pool owns
// the database file, so at pool start any running row belongs to a process
// that died or was stopped mid-dispatch.
func (r *SQLiteRepo) RequeueRunning(ctx context.Context) (int64, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE jobs SET status = 'retry', next_try_at = NULL, updated = ? WHERE status = 'running'`, now())
	if err != nil {
		return 0, errors.Wrap(err, "requeue running jobs")
	}
	return res.RowsAffected()
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *SQLiteRepo) MoveToDeadLetter(ctx context.Context, j *models.BackgroundJob) error {
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		insert := `INSERT INTO dead_letter_jobs(job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?)`
		if _, err := tx.ExecContext(ctx, insert, j.ID, j.Type, string(j.Payload), j.Attempts, j.LastError, now()); err != nil {
			return errors.Wrap(err, "insert dead letter")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID); err != nil {
			return errors.Wrap(err, "delete job")
		}
		return nil
	})
}

// CountDeadLetters returns the number of jobs that exhausted their attempts.
func (r *SQLiteRepo) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_jobs`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count dead letters")
	}
	return n, nil
}
