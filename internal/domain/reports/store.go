package reports

import (
	"context"
	"errors"
	"fmt"

	"calmmap/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) Store {
	return &Repository{q: q}
}

const reportColumns = `
	id, review_id, reason, message, status, reporter_id, reporter_ip,
	created_at, resolved_at, resolved_by, resolution_note`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	err := row.Scan(
		&r.ID, &r.ReviewID, &r.Reason, &r.Message, &r.Status, &r.ReporterID, &r.ReporterIP,
		&r.CreatedAt, &r.ResolvedAt, &r.ResolvedBy, &r.ResolutionNote,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return &r, nil
}

func (r *Repository) Create(ctx context.Context, rp *Report) error {
	const query = `
	INSERT INTO review_reports (review_id, reason, message, reporter_id, reporter_ip)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, status, created_at`

	err := r.q.QueryRow(ctx, query, rp.ReviewID, rp.Reason, rp.Message, rp.ReporterID, rp.ReporterIP).
		Scan(&rp.ID, &rp.Status, &rp.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Report, error) {
	return scanReport(r.q.QueryRow(ctx, `SELECT `+reportColumns+` FROM review_reports WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, id int64) (*Report, error) {
	return scanReport(r.q.QueryRow(ctx, `SELECT `+reportColumns+` FROM review_reports WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) Close(ctx context.Context, id int64, c Closure) error {
	const query = `
	UPDATE review_reports
	SET status = $1, resolved_by = $2, resolved_at = $3, resolution_note = $4
	WHERE id = $5 AND status = 'OPEN'`

	ct, err := r.q.Exec(ctx, query, c.Status, c.By, c.At, c.Note, id)
	if err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Report, int, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var total int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_reports WHERE ($1::TEXT IS NULL OR status = $1)`, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	query := `SELECT ` + reportColumns + `
	FROM review_reports
	WHERE ($1::TEXT IS NULL OR status = $1)
	ORDER BY created_at ASC, id ASC
	LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
