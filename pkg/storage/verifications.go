package storage

import (
	"context"
	"database/sql"
)

// LogVerificationAttempt appends one public lookup to the audit trail.
func (d *DB) LogVerificationAttempt(ctx context.Context, a VerificationAttempt) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	at := a.AttemptedAt
	if at.IsZero() {
		at = d.clock()
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO verification_attempts(certificate_number, certificate_id, result, caller_address, user_agent, attempted_at) VALUES(?,?,?,?,?,?)`,
		a.CertificateNumber, nullIfEmpty(a.CertificateID), a.Result, a.CallerAddress, a.UserAgent, formatTime(at))
	return wrap("log verification attempt", err)
}

// attemptsFor matches attempts typed as number, and attempts that resolved to
// the certificate carrying number whatever spelling the caller used.
const attemptsFor = "certificate_number = ? OR certificate_id IN (SELECT id FROM certificates WHERE certificate_number = ?)"

// ListVerificationAttempts returns the attempts made against number, newest
// first. An empty number lists attempts across all certificates.
func (d *DB) ListVerificationAttempts(ctx context.Context, number string, limit int) ([]VerificationAttempt, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	q := "SELECT id, certificate_number, certificate_id, result, caller_address, user_agent, attempted_at FROM verification_attempts"
	args := []interface{}{}
	if number != "" {
		q += " WHERE " + attemptsFor
		args = append(args, number, number)
	}
	q += " ORDER BY attempted_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap("list verification attempts", err)
	}
	defer rows.Close()

	out := []VerificationAttempt{}
	for rows.Next() {
		var (
			a           VerificationAttempt
			certID      sql.NullString
			attemptedAt string
		)
		if err := rows.Scan(&a.ID, &a.CertificateNumber, &certID, &a.Result, &a.CallerAddress, &a.UserAgent, &attemptedAt); err != nil {
			return nil, wrap("list verification attempts", err)
		}
		a.CertificateID = certID.String
		a.AttemptedAt = parseTime(attemptedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list verification attempts", err)
	}
	return out, nil
}

// CountVerificationAttempts returns how many attempts were logged for number.
func (d *DB) CountVerificationAttempts(ctx context.Context, number string) (int, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	var n int
	err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM verification_attempts WHERE "+attemptsFor, number, number).Scan(&n)
	if err != nil {
		return 0, wrap("count verification attempts", err)
	}
	return n, nil
}
