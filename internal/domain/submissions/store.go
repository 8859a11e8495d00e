package submissions

import (
	"context"
	"encoding/json"
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

const submissionColumns = `
	id, type, status, proposed_name, payload, venue_id,
	submitted_by, reviewed_by, rejection_reason,
	created_at, updated_at, reviewed_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		s       Submission
		payload []byte
	)
	err := row.Scan(
		&s.ID, &s.Type, &s.Status, &s.ProposedName, &payload, &s.VenueID,
		&s.SubmittedBy, &s.ReviewedBy, &s.RejectionReason,
		&s.CreatedAt, &s.UpdatedAt, &s.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, fmt.Errorf("decode submission %d payload: %w", s.ID, err)
	}
	return &s, nil
}

func (r *Repository) Create(ctx context.Context, s *Submission) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	const query = `
	INSERT INTO submissions (type, proposed_name, payload, venue_id, submitted_by)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, status, created_at, updated_at`

	err = r.q.QueryRow(ctx, query, s.Type, s.ProposedName, payload, s.VenueID, s.SubmittedBy).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Submission, error) {
	row := r.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

func (r *Repository) GetForUpdate(ctx context.Context, id int64) (*Submission, error) {
	row := r.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
	return scanSubmission(row)
}

// List returns one page of submissions, newest first, and the total count
// matching the filter.
func (r *Repository) List(ctx context.Context, f Filter) ([]Submission, int, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var total int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE ($1::TEXT IS NULL OR status = $1)`,
		status,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	query := `SELECT ` + submissionColumns + `
	FROM submissions
	WHERE ($1::TEXT IS NULL OR status = $1)
	ORDER BY created_at DESC, id DESC
	LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, status, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]Submission, 0, f.Limit)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows submissions: %w", err)
	}
	return out, total, nil
}

func (r *Repository) UpdatePending(ctx context.Context, id int64, proposedName string, p Payload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	const query = `
	UPDATE submissions
	SET proposed_name = $1, payload = $2, updated_at = NOW()
	WHERE id = $3 AND status = 'PENDING'`

	ct, err := r.q.Exec(ctx, query, proposedName, payload, id)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *Repository) MarkApproved(ctx context.Context, id int64, venueID int64, d Decision) error {
	const query = `
	UPDATE submissions
	SET status = 'APPROVED',
	    venue_id = $1,
	    reviewed_by = $2,
	    reviewed_at = $3,
	    updated_at = $3
	WHERE id = $4 AND status = 'PENDING'`

	ct, err := r.q.Exec(ctx, query, venueID, d.ReviewerID, d.At, id)
	if err != nil {
		return fmt.Errorf("approve submission: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *Repository) MarkRejected(ctx context.Context, id int64, reason *string, d Decision) error {
	const query = `
	UPDATE submissions
	SET status = 'REJECTED',
	    rejection_reason = $1,
	    reviewed_by = $2,
	    reviewed_at = $3,
	    updated_at = $3
	WHERE id = $4 AND status = 'PENDING'`

	ct, err := r.q.Exec(ctx, query, reason, d.ReviewerID, d.At, id)
	if err != nil {
		return fmt.Errorf("reject submission: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}
