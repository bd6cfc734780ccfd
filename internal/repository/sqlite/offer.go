package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

const offerColumns = `id, candidate_id, job_request_id, status, queue_position_at_offer, offered_at, expires_at, accepted_at, declined_at, created`

func scanOffer(s rowScanner) (*models.Offer, error) {
	var (
		o         models.Offer
		status    string
		offeredAt int64
		expiresAt int64
		accepted  sql.NullInt64
		declined  sql.NullInt64
		created   int64
	)
	if err := s.Scan(&o.ID, &o.CandidateID, &o.JobRequestID, &status, &o.QueuePositionAtOffer, &offeredAt, &expiresAt, &accepted, &declined, &created); err != nil {
		return nil, err
	}
	o.Status = models.OfferStatus(status)
	o.OfferedAt = fromMillis(offeredAt)
	o.ExpiresAt = fromMillis(expiresAt)
	o.AcceptedAt = timePtr(accepted)
	o.DeclinedAt = timePtr(declined)
	o.Created = fromMillis(created)
	return &o, nil
}

func (r *SQLiteRepo) queryOffers(ctx context.Context, q string, args ...any) ([]models.Offer, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query offers")
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan offer")
		}
		out = append(out, *o)
	}

	return out, rows.Err()
}

// CreateOffer inserts o. A second active offer for the same (candidate, job)
// pair is rejected by the ux_offers_active index and reported as
// repository.ErrConflict.
func (r *SQLiteRepo) CreateOffer(ctx context.Context, o *models.Offer) (int64, error) {
	if o == nil {
		return 0, errors.New("offer is nil")
	}
	if o.Status == "" {
		o.Status = models.OfferPending
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO offers (candidate_id, job_request_id, status, queue_position_at_offer, offered_at, expires_at, accepted_at, declined_at, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CandidateID, o.JobRequestID, string(o.Status), o.QueuePositionAtOffer, toMillis(o.OfferedAt), toMillis(o.ExpiresAt), nullMillis(o.AcceptedAt), nullMillis(o.DeclinedAt), now())
	if err != nil {
		return 0, mapErr(err, "insert offer")
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get offer")
	}

	return o, nil
}

func (r *SQLiteRepo) UpdateOffer(ctx context.Context, o *models.Offer) error {
	if o == nil {
		return errors.New("offer is nil")
	}

	_, err := r.q.ExecContext(ctx, `UPDATE offers SET status = ?, expires_at = ?, accepted_at = ?, declined_at = ? WHERE id = ?`,
		string(o.Status), toMillis(o.ExpiresAt), nullMillis(o.AcceptedAt), nullMillis(o.DeclinedAt), o.ID)

	return mapErr(err, "update offer")
}

func (r *SQLiteRepo) HasActiveOffer(ctx context.Context, candidateID, jobID int64) (bool, error) {
	var n int
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM offers WHERE candidate_id = ? AND job_request_id = ? AND status IN ('pending', 'accepted')`, candidateID, jobID)
	if err := row.Scan(&n); err != nil {
		return false, errors.Wrap(err, "check active offer")
	}

	return n > 0, nil
}

func (r *SQLiteRepo) CountPendingOffers(ctx context.Context, jobID int64) (int, error) {
	var n int
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM offers WHERE job_request_id = ? AND status = ?`, jobID, string(models.OfferPending))
	if err := row.Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pending offers")
	}

	return n, nil
}

// ListExpiredPending returns pending offers whose expiry is strictly before
// now, oldest expiry first.
func (r *SQLiteRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]models.Offer, error) {
	return r.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE status = ? AND expires_at < ? ORDER BY expires_at ASC, id ASC`,
		string(models.OfferPending), toMillis(now))
}

func (r *SQLiteRepo) ListOffersByCandidate(ctx context.Context, candidateID int64) ([]models.Offer, error) {
	return r.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE candidate_id = ? ORDER BY offered_at DESC, id DESC`, candidateID)
}

func (r *SQLiteRepo) GetPendingOfferByCandidate(ctx context.Context, candidateID int64) (*models.Offer, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE candidate_id = ? AND status = ? ORDER BY id DESC LIMIT 1`, candidateID, string(models.OfferPending))
	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get pending offer")
	}

	return o, nil
}
