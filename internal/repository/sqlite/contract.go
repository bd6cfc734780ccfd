package sqlite

import (
	"context"
	"database/sql"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

func (r *SQLiteRepo) CreateContractData(ctx context.Context, c *models.ContractData) (int64, error) {
	if c == nil {
		return 0, errors.New("contract data is nil")
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO contract_data (offer_id, candidate_id, job_request_id, created) VALUES (?, ?, ?, ?)`,
		c.OfferID, c.CandidateID, c.JobRequestID, now())
	if err != nil {
		return 0, mapErr(err, "insert contract data")
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetContractDataByOffer(ctx context.Context, offerID int64) (*models.ContractData, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, offer_id, candidate_id, job_request_id, created FROM contract_data WHERE offer_id = ?`, offerID)
	var (
		c       models.ContractData
		created int64
	)
	if err := row.Scan(&c.ID, &c.OfferID, &c.CandidateID, &c.JobRequestID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get contract data")
	}
	c.Created = fromMillis(created)

	return &c, nil
}
