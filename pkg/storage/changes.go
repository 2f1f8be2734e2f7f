package storage

import (
	"context"
	"database/sql"
)

func logChange(ctx context.Context, tx *sql.Tx, c Change) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submission_changes(occurred_at, submission_id, product_name, from_status, to_status, actor) VALUES(?,?,?,?,?,?)`,
		formatTime(c.OccurredAt), c.SubmissionID, c.ProductName, string(c.FromStatus), string(c.ToStatus), c.Actor)
	return err
}

// ListRecentChanges returns the most recent N status changes across all submissions.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	return d.listChanges(ctx, "", limit)
}

// ListSubmissionChanges returns the status history of one submission, newest first.
func (d *DB) ListSubmissionChanges(ctx context.Context, submissionID string, limit int) ([]Change, error) {
	return d.listChanges(ctx, submissionID, limit)
}

func (d *DB) listChanges(ctx context.Context, submissionID string, limit int) ([]Change, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	q := "SELECT occurred_at, submission_id, product_name, from_status, to_status, actor FROM submission_changes"
	args := []interface{}{}
	if submissionID != "" {
		q += " WHERE submission_id = ?"
		args = append(args, submissionID)
	}
	q += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("list changes", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAt string
		if err := rows.Scan(&occurredAt, &c.SubmissionID, &c.ProductName, &c.FromStatus, &c.ToStatus, &c.Actor); err != nil {
			return nil, wrap("list changes", err)
		}
		c.OccurredAt = parseTime(occurredAt)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list changes", err)
	}
	return changes, nil
}

// GetStats returns submission and certificate counts per status. Certificates
// whose stored status is active but whose expiry has passed count as expired.
func (d *DB) GetStats(ctx context.Context) ([]StatusCount, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	query := `
		SELECT 'submissions', status, COUNT(*)
		FROM submissions
		GROUP BY status
		UNION ALL
		SELECT
			'certificates',
			CASE WHEN status = 'active' AND expires_at <= ? THEN 'expired' ELSE status END AS effective,
			COUNT(*)
		FROM certificates
		GROUP BY effective
		UNION ALL
		SELECT 'verifications', result, COUNT(*)
		FROM verification_attempts
		GROUP BY result
		ORDER BY 1, 2;
	`
	rows, err := d.sql.QueryContext(ctx, query, formatTime(d.clock()))
	if err != nil {
		return nil, wrap("stats", err)
	}
	defer rows.Close()

	var stats []StatusCount
	for rows.Next() {
		var s StatusCount
		if err := rows.Scan(&s.Kind, &s.Status, &s.Count); err != nil {
			return nil, wrap("stats", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stats", err)
	}
	return stats, nil
}
