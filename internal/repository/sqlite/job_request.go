package sqlite

import (
	"context"
	"database/sql"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/cockroachdb/errors"
)

const jobRequestColumns = `id, employer_name, title, country, positions_count, positions_filled, status, auto_match_triggered, created, updated`

func scanJobRequest(s rowScanner) (*models.JobRequest, error) {
	var (
		j         models.JobRequest
		status    string
		triggered int
		created   int64
		updated   int64
	)
	if err := s.Scan(&j.ID, &j.EmployerName, &j.Title, &j.Country, &j.PositionsCount, &j.PositionsFilled, &status, &triggered, &created, &updated); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.AutoMatchTriggered = triggered == 1
	j.Created = fromMillis(created)
	j.Updated = fromMillis(updated)
	return &j, nil
}

func (r *SQLiteRepo) CreateJobRequest(ctx context.Context, j *models.JobRequest) (int64, error) {
	if j == nil {
		return 0, errors.New("job request is nil")
	}
	if j.Status == "" {
		j.Status = models.JobOpen
	}

	ts := now()
	res, err := r.q.ExecContext(ctx, `INSERT INTO job_requests (employer_name, title, country, positions_count, positions_filled, status, auto_match_triggered, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.EmployerName, j.Title, j.Country, j.PositionsCount, j.PositionsFilled, string(j.Status), boolInt(j.AutoMatchTriggered), ts, ts)
	if err != nil {
		return 0, mapErr(err, "insert job request")
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetJobRequest(ctx context.Context, id int64) (*models.JobRequest, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+jobRequestColumns+` FROM job_requests WHERE id = ?`, id)
	j, err := scanJobRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get job request")
	}

	return j, nil
}

func (r *SQLiteRepo) UpdateJobRequest(ctx context.Context, j *models.JobRequest) error {
	if j == nil {
		return errors.New("job request is nil")
	}

	_, err := r.q.ExecContext(ctx, `UPDATE job_requests SET employer_name = ?, title = ?, country = ?, positions_count = ?, positions_filled = ?, status = ?, auto_match_triggered = ?, updated = ? WHERE id = ?`,
		j.EmployerName, j.Title, j.Country, j.PositionsCount, j.PositionsFilled, string(j.Status), boolInt(j.AutoMatchTriggered), now(), j.ID)

	return mapErr(err, "update job request")
}

// ListOpenJobRequests returns jobs in status open that still have unfilled
// positions, oldest first.
func (r *SQLiteRepo) ListOpenJobRequests(ctx context.Context) ([]models.JobRequest, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+jobRequestColumns+` FROM job_requests WHERE status = ? AND positions_filled < positions_count ORDER BY created ASC, id ASC`, string(models.JobOpen))
	if err != nil {
		return nil, errors.Wrap(err, "list open job requests")
	}
	defer rows.Close()

	var out []models.JobRequest
	for rows.Next() {
		j, err := scanJobRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job request")
		}
		out = append(out, *j)
	}

	return out, rows.Err()
}
