package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const submissionColumns = "id, organization_name, submitted_by, product_name, status, record, created_at, updated_at, submitted_at, reviewed_at, reviewed_by, review_notes"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		s                       Submission
		record                  string
		createdAt, updatedAt    string
		submittedAt, reviewedAt sql.NullString
		reviewedBy, reviewNotes sql.NullString
	)
	if err := row.Scan(&s.ID, &s.OrganizationName, &s.SubmittedBy, &s.ProductName, &s.Status, &record, &createdAt, &updatedAt, &submittedAt, &reviewedAt, &reviewedBy, &reviewNotes); err != nil {
		return nil, err
	}
	s.Record = []byte(record)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.SubmittedAt = parseNullTime(submittedAt)
	s.ReviewedAt = parseNullTime(reviewedAt)
	s.ReviewedBy = reviewedBy.String
	s.ReviewNotes = reviewNotes.String
	return &s, nil
}

// CreateSubmission inserts s with a fresh id and logs its initial status.
func (d *DB) CreateSubmission(ctx context.Context, s *Submission) (*Submission, error) {
	if !s.Status.Valid() {
		return nil, fmt.Errorf("invalid submission status %q", s.Status)
	}
	now := d.clock()
	out := *s
	out.ID = uuid.NewString()
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Status == StatusSubmitted {
		out.SubmittedAt = &now
	}

	err := d.inTx(ctx, "create submission", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id, organization_name, submitted_by, product_name, status, record, created_at, updated_at, submitted_at) VALUES(?,?,?,?,?,?,?,?,?)`,
			out.ID, out.OrganizationName, out.SubmittedBy, out.ProductName, string(out.Status), string(out.Record), formatTime(now), formatTime(now), nullTime(out.SubmittedAt))
		if err != nil {
			return err
		}
		return logChange(ctx, tx, Change{OccurredAt: now, SubmissionID: out.ID, ProductName: out.ProductName, ToStatus: out.Status, Actor: out.SubmittedBy})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSubmission returns the submission with id, or ErrNotFound.
func (d *DB) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	s, err := scanSubmission(d.sql.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, wrap("get submission", err)
	}
	return s, nil
}

// ListSubmissions returns submissions matching filter, newest first.
func (d *DB) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []interface{}{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Organization != "" {
		where += " AND organization_name = ?"
		args = append(args, filter.Organization)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, "SELECT "+submissionColumns+" FROM submissions "+where+" ORDER BY updated_at DESC LIMIT ?", args...)
	if err != nil {
		return nil, wrap("list submissions", err)
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, wrap("list submissions", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list submissions", err)
	}
	return out, nil
}

// ChangeSubmission applies upd only if the submission is currently in status
// from, and still holds upd.IfRecord when that is set. Any other state yields
// ErrConflict; a missing submission yields ErrNotFound. Concurrent callers
// racing on the same transition see exactly one success.
func (d *DB) ChangeSubmission(ctx context.Context, id string, from SubmissionStatus, upd SubmissionUpdate) (*Submission, error) {
	if !upd.To.Valid() {
		return nil, fmt.Errorf("invalid submission status %q", upd.To)
	}
	now := d.clock()

	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(upd.To), formatTime(now)}
	if upd.Record != nil {
		sets = append(sets, "record = ?", "product_name = ?")
		args = append(args, string(upd.Record), upd.ProductName)
	}
	switch upd.To {
	case StatusSubmitted:
		if from == StatusDraft {
			sets = append(sets, "submitted_at = ?")
			args = append(args, formatTime(now))
		}
	case StatusUnderReview, StatusApproved, StatusRejected:
		sets = append(sets, "reviewed_at = ?", "reviewed_by = ?", "review_notes = ?")
		args = append(args, formatTime(now), nullIfEmpty(upd.Actor), nullIfEmpty(upd.Notes))
	}
	where := "id = ? AND status = ?"
	args = append(args, id, string(from))
	if upd.IfRecord != nil {
		where += " AND record = ?"
		args = append(args, string(upd.IfRecord))
	}

	var out *Submission
	err := d.inTx(ctx, "change submission", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE submissions SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var current SubmissionStatus
			err := tx.QueryRowContext(ctx, "SELECT status FROM submissions WHERE id = ?", id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: submission %s", ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			if current == from {
				return fmt.Errorf("%w: submission %s was modified concurrently", ErrConflict, id)
			}
			return fmt.Errorf("%w: submission %s is %s, expected %s", ErrConflict, id, current, from)
		}
		out, err = scanSubmission(tx.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id))
		if err != nil {
			return err
		}
		if from == upd.To {
			return nil
		}
		return logChange(ctx, tx, Change{OccurredAt: now, SubmissionID: id, ProductName: out.ProductName, FromStatus: from, ToStatus: upd.To, Actor: upd.Actor})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
