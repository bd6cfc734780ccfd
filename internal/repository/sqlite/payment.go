package sqlite

import (
	"context"
	"database/sql"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

const paymentColumns = `id, candidate_id, offer_id, kind, amount_cents, currency, status, provider_ref, created, updated`

func scanPayment(s rowScanner) (*models.Payment, error) {
	var (
		p       models.Payment
		offerID sql.NullInt64
		kind    string
		status  string
		created int64
		updated int64
	)
	if err := s.Scan(&p.ID, &p.CandidateID, &offerID, &kind, &p.AmountCents, &p.Currency, &status, &p.ProviderRef, &created, &updated); err != nil {
		return nil, err
	}
	if offerID.Valid {
		v := offerID.Int64
		p.OfferID = &v
	}
	p.Kind = models.PaymentKind(kind)
	p.Status = models.PaymentStatus(status)
	p.Created = fromMillis(created)
	p.Updated = fromMillis(updated)
	return &p, nil
}

// CreatePayment records a confirmed payment. provider_ref is unique, so a
// redelivered webhook yields repository.ErrConflict.
func (r *SQLiteRepo) CreatePayment(ctx context.Context, p *models.Payment) (int64, error) {
	if p == nil {
		return 0, errors.New("payment is nil")
	}
	if p.Status == "" {
		p.Status = models.PaymentCompleted
	}
	if p.Currency == "" {
		p.Currency = "eur"
	}

	var offerID any
	if p.OfferID != nil {
		offerID = *p.OfferID
	}
	ts := now()
	res, err := r.q.ExecContext(ctx, `INSERT INTO payments (candidate_id, offer_id, kind, amount_cents, currency, status, provider_ref, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CandidateID, offerID, string(p.Kind), p.AmountCents, p.Currency, string(p.Status), p.ProviderRef, ts, ts)
	if err != nil {
		return 0, mapErr(err, "insert payment")
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetPaymentByRef(ctx context.Context, providerRef string) (*models.Payment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_ref = ?`, providerRef)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get payment by ref")
	}

	return p, nil
}

func (r *SQLiteRepo) GetLatestPayment(ctx context.Context, candidateID int64, kind models.PaymentKind) (*models.Payment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE candidate_id = ? AND kind = ? ORDER BY id DESC LIMIT 1`, candidateID, string(kind))
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get latest payment")
	}

	return p, nil
}

func (r *SQLiteRepo) UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error {
	_, err := r.q.ExecContext(ctx, `UPDATE payments SET status = ?, updated = ? WHERE id = ?`, string(status), now(), id)
	return mapErr(err, "update payment status")
}
