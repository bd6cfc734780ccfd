package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

const candidateColumns = `id, full_name, email, phone, status, queue_position, queue_joined_at, entry_fee_paid, refund_deadline, refund_eligible, created, updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(s rowScanner) (*models.Candidate, error) {
	var (
		c        models.Candidate
		status   string
		position sql.NullInt64
		joined   sql.NullInt64
		paid     int
		deadline sql.NullInt64
		eligible int
		created  int64
		updated  int64
	)
	if err := s.Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &status, &position, &joined, &paid, &deadline, &eligible, &created, &updated); err != nil {
		return nil, err
	}
	c.Status = models.CandidateStatus(status)
	if position.Valid {
		p := position.Int64
		c.QueuePosition = &p
	}
	c.QueueJoinedAt = timePtr(joined)
	c.EntryFeePaid = paid == 1
	c.RefundDeadline = timePtr(deadline)
	c.RefundEligible = eligible == 1
	c.Created = fromMillis(created)
	c.Updated = fromMillis(updated)
	return &c, nil
}

func (r *SQLiteRepo) queryCandidates(ctx context.Context, q string, args ...any) ([]models.Candidate, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query candidates")
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) CreateCandidate(ctx context.Context, c *models.Candidate) (int64, error) {
	if c == nil {
		return 0, errors.New("candidate is nil")
	}
	if c.Status == "" {
		c.Status = models.CandidateNew
	}

	var position any
	if c.QueuePosition != nil {
		position = *c.QueuePosition
	}
	ts := now()
	res, err := r.q.ExecContext(ctx, `INSERT INTO candidates (full_name, email, phone, status, queue_position, queue_joined_at, entry_fee_paid, refund_deadline, refund_eligible, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FullName, c.Email, c.Phone, string(c.Status), position, nullMillis(c.QueueJoinedAt), boolInt(c.EntryFeePaid), nullMillis(c.RefundDeadline), boolInt(c.RefundEligible), ts, ts)
	if err != nil {
		return 0, mapErr(err, "insert candidate")
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetCandidate(ctx context.Context, id int64) (*models.Candidate, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get candidate")
	}

	return c, nil
}

// UpdateCandidate persists the lifecycle fields of c.
func (r *SQLiteRepo) UpdateCandidate(ctx context.Context, c *models.Candidate) error {
	if c == nil {
		return errors.New("candidate is nil")
	}

	var position any
	if c.QueuePosition != nil {
		position = *c.QueuePosition
	}
	_, err := r.q.ExecContext(ctx, `UPDATE candidates SET full_name = ?, email = ?, phone = ?, status = ?, queue_position = ?, queue_joined_at = ?, entry_fee_paid = ?, refund_deadline = ?, refund_eligible = ?, updated = ? WHERE id = ?`,
		c.FullName, c.Email, c.Phone, string(c.Status), position, nullMillis(c.QueueJoinedAt), boolInt(c.EntryFeePaid), nullMillis(c.RefundDeadline), boolInt(c.RefundEligible), now(), c.ID)

	return mapErr(err, "update candidate")
}

func (r *SQLiteRepo) NextQueuePosition(ctx context.Context) (int64, error) {
	var v int64
	row := r.q.QueryRowContext(ctx, `UPDATE queue_counter SET value = value + 1 WHERE id = 1 RETURNING value`)
	if err := row.Scan(&v); err != nil {
		return 0, errors.Wrap(err, "advance queue counter")
	}

	return v, nil
}

func (r *SQLiteRepo) ListQueued(ctx context.Context, limit, offset int) ([]models.Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return r.queryCandidates(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE status = ? AND entry_fee_paid = 1 ORDER BY queue_position ASC LIMIT ? OFFSET ?`,
		string(models.CandidateInQueue), limit, offset)
}

func (r *SQLiteRepo) CountQueued(ctx context.Context) (int64, error) {
	var cnt int64
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates WHERE status = ? AND entry_fee_paid = 1`, string(models.CandidateInQueue))
	if err := row.Scan(&cnt); err != nil {
		return 0, errors.Wrap(err, "count queued")
	}
	return cnt, nil
}

func (r *SQLiteRepo) ListEligibleForJob(ctx context.Context, jobID int64, limit int) ([]models.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	return r.queryCandidates(ctx, `SELECT `+candidateColumns+` FROM candidates c
		WHERE c.status = ? AND c.entry_fee_paid = 1 AND c.queue_position IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM offers o WHERE o.candidate_id = c.id AND o.job_request_id = ? AND o.status IN ('pending', 'accepted'))
		ORDER BY c.queue_position ASC LIMIT ?`,
		string(models.CandidateInQueue), jobID, limit)
}

func (r *SQLiteRepo) NextEligibleAfter(ctx context.Context, jobID int64, after int64) (*models.Candidate, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates c
		WHERE c.status = ? AND c.entry_fee_paid = 1 AND c.queue_position > ?
		AND NOT EXISTS (SELECT 1 FROM offers o WHERE o.candidate_id = c.id AND o.job_request_id = ?)
		ORDER BY c.queue_position ASC LIMIT 1`,
		string(models.CandidateInQueue), after, jobID)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "next eligible candidate")
	}

	return c, nil
}

func (r *SQLiteRepo) ListRefundDue(ctx context.Context, cutoff time.Time) ([]models.Candidate, error) {
	return r.queryCandidates(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE status = ? AND entry_fee_paid = 1 AND refund_eligible = 1 AND queue_joined_at < ?
		ORDER BY queue_position ASC`,
		string(models.CandidateInQueue), toMillis(cutoff))
}
