package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CertificatePrefix starts every certificate number.
const CertificatePrefix = "OSI"

// maxNumberAttempts bounds re-allocation when a sequence number collides with
// a row inserted outside the counter.
const maxNumberAttempts = 3

const certificateColumns = "id, certificate_number, serial_number, submission_id, product_name, organization_name, signature, status, demo, issued_at, expires_at, revoked_at, revocation_reason"

func scanCertificate(row rowScanner) (*Certificate, error) {
	var (
		c                   Certificate
		demo                int
		issuedAt, expiresAt string
		revokedAt, reason   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.CertificateNumber, &c.SerialNumber, &c.SubmissionID, &c.ProductName, &c.OrganizationName, &c.Signature, &c.Status, &demo, &issuedAt, &expiresAt, &revokedAt, &reason); err != nil {
		return nil, err
	}
	c.Demo = demo == 1
	c.IssuedAt = parseTime(issuedAt)
	c.ExpiresAt = parseTime(expiresAt)
	c.RevokedAt = parseNullTime(revokedAt)
	c.RevocationReason = reason.String
	return &c, nil
}

// IssueCertificate allocates the next sequence number of the issuedAt year and
// inserts the certificate produced by mint, all in one write transaction. It
// fails with ErrNotFound unless submissionID is approved, and with ErrConflict
// if the submission already holds an unexpired active certificate.
func (d *DB) IssueCertificate(ctx context.Context, submissionID string, issuedAt time.Time, mint Minter) (*Certificate, error) {
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		cert, retry, err := d.issueOnce(ctx, submissionID, issuedAt, mint)
		if err == nil {
			return cert, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *DB) issueOnce(ctx context.Context, submissionID string, issuedAt time.Time, mint Minter) (cert *Certificate, retry bool, err error) {
	err = d.inTx(ctx, "issue certificate", func(ctx context.Context, tx *sql.Tx) error {
		sub, err := scanSubmission(tx.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ? AND status = ?", submissionID, string(StatusApproved)))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no approved submission %s", ErrNotFound, submissionID)
		}
		if err != nil {
			return err
		}

		// idx_certificates_one_active keys on the stored status, so an active row
		// past its expiry is retired before its renewal is inserted.
		if _, err := tx.ExecContext(ctx, "UPDATE certificates SET status = ? WHERE submission_id = ? AND status = ? AND expires_at <= ?",
			string(CertExpired), submissionID, string(CertActive), formatTime(issuedAt)); err != nil {
			return err
		}
		var active int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM certificates WHERE submission_id = ? AND status = ?", submissionID, string(CertActive)).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: submission %s already has an active certificate", ErrConflict, submissionID)
		}

		seq, err := nextSequence(ctx, tx, issuedAt.UTC().Year())
		if err != nil {
			return err
		}
		c, err := mint(seq, sub)
		if err != nil {
			return err
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.SubmissionID = submissionID
		_, err = tx.ExecContext(ctx, `INSERT INTO certificates(`+certificateColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.ID, c.CertificateNumber, c.SerialNumber, c.SubmissionID, c.ProductName, c.OrganizationName, c.Signature, string(c.Status), boolToInt(c.Demo),
			formatTime(c.IssuedAt), formatTime(c.ExpiresAt), nullTime(c.RevokedAt), nullIfEmpty(c.RevocationReason))
		if target, ok := uniqueViolation(err); ok {
			if strings.Contains(target, "submission_id") {
				return fmt.Errorf("%w: submission %s already has an active certificate", ErrConflict, submissionID)
			}
			retry = true
		}
		if err != nil {
			return err
		}
		cert = c
		return nil
	})
	return cert, retry, err
}

// nextSequence increments and returns the per-year certificate counter. The
// counter never falls behind the highest number already stored for the year,
// so rows inserted outside the counter cannot cause a collision twice.
func nextSequence(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	prefix := fmt.Sprintf("%s-%04d-", CertificatePrefix, year)
	if _, err := tx.ExecContext(ctx, `INSERT INTO certificate_sequences(year, last_seq) VALUES(?, 0) ON CONFLICT(year) DO NOTHING`, year); err != nil {
		return 0, err
	}
	var seq int
	err := tx.QueryRowContext(ctx, `
		UPDATE certificate_sequences
		SET last_seq = MAX(last_seq, (
			SELECT COALESCE(MAX(CAST(substr(certificate_number, ?) AS INTEGER)), 0)
			FROM certificates
			WHERE certificate_number LIKE ?
		)) + 1
		WHERE year = ?
		RETURNING last_seq`, len(prefix)+1, prefix+"%", year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// GetCertificate returns the certificate with id, or ErrNotFound.
func (d *DB) GetCertificate(ctx context.Context, id string) (*Certificate, error) {
	return d.getCertificate(ctx, "id", id)
}

// GetCertificateByNumber returns the certificate with the given number, or ErrNotFound.
func (d *DB) GetCertificateByNumber(ctx context.Context, number string) (*Certificate, error) {
	return d.getCertificate(ctx, "certificate_number", number)
}

func (d *DB) getCertificate(ctx context.Context, column, value string) (*Certificate, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	c, err := scanCertificate(d.sql.QueryRowContext(ctx, "SELECT "+certificateColumns+" FROM certificates WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: certificate %s", ErrNotFound, value)
	}
	if err != nil {
		return nil, wrap("get certificate", err)
	}
	return c, nil
}

// ListCertificates returns certificates matching filter, newest first.
func (d *DB) ListCertificates(ctx context.Context, filter CertificateFilter) ([]Certificate, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []interface{}{}
	if filter.SubmissionID != "" {
		where += " AND submission_id = ?"
		args = append(args, filter.SubmissionID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, "SELECT "+certificateColumns+" FROM certificates "+where+" ORDER BY issued_at DESC, certificate_number DESC LIMIT ?", args...)
	if err != nil {
		return nil, wrap("list certificates", err)
	}
	defer rows.Close()

	out := []Certificate{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, wrap("list certificates", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list certificates", err)
	}
	return out, nil
}

// RevokeCertificate moves an active, unexpired certificate to revoked. An
// already revoked or expired certificate yields ErrConflict.
func (d *DB) RevokeCertificate(ctx context.Context, id, reason string, at time.Time) (*Certificate, error) {
	var out *Certificate
	err := d.inTx(ctx, "revoke certificate", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE certificates SET status = ?, revoked_at = ?, revocation_reason = ? WHERE id = ? AND status = ? AND expires_at > ?",
			string(CertRevoked), formatTime(at), reason, id, string(CertActive), formatTime(at))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		c, err := scanCertificate(tx.QueryRowContext(ctx, "SELECT "+certificateColumns+" FROM certificates WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: certificate %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			state := c.Status
			if state == CertActive {
				state = CertExpired
			}
			return fmt.Errorf("%w: certificate %s is already %s", ErrConflict, c.CertificateNumber, state)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
