package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBTimeout bounds every store call that does not carry its own deadline.
const DefaultDBTimeout = 5 * time.Second

type DB struct {
	sql     *sql.DB
	timeout time.Duration
	now     func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
  id                TEXT PRIMARY KEY,
  organization_name TEXT NOT NULL,
  submitted_by      TEXT NOT NULL DEFAULT '',
  product_name      TEXT NOT NULL DEFAULT '',
  status            TEXT NOT NULL CHECK (status IN ('draft','submitted','under_review','approved','rejected')),
  record            TEXT NOT NULL,
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL,
  submitted_at      TEXT,
  reviewed_at       TEXT,
  reviewed_by       TEXT,
  review_notes      TEXT
);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_org ON submissions(organization_name);
CREATE TABLE IF NOT EXISTS submission_changes (
  id            INTEGER PRIMARY KEY,
  occurred_at   TEXT NOT NULL,
  submission_id TEXT NOT NULL REFERENCES submissions(id),
  product_name  TEXT NOT NULL DEFAULT '',
  from_status   TEXT NOT NULL DEFAULT '',
  to_status     TEXT NOT NULL,
  actor         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON submission_changes(occurred_at);
CREATE INDEX IF NOT EXISTS idx_changes_submission ON submission_changes(submission_id, occurred_at);
CREATE TABLE IF NOT EXISTS certificates (
  id                 TEXT PRIMARY KEY,
  certificate_number TEXT NOT NULL UNIQUE,
  serial_number      TEXT NOT NULL UNIQUE,
  submission_id      TEXT NOT NULL REFERENCES submissions(id),
  product_name       TEXT NOT NULL,
  organization_name  TEXT NOT NULL,
  signature          TEXT NOT NULL,
  status             TEXT NOT NULL CHECK (status IN ('active','expired','revoked')),
  demo               INTEGER NOT NULL DEFAULT 0 CHECK (demo IN (0,1)),
  issued_at          TEXT NOT NULL,
  expires_at         TEXT NOT NULL,
  revoked_at         TEXT,
  revocation_reason  TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_one_active ON certificates(submission_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_certificates_submission ON certificates(submission_id);
CREATE TABLE IF NOT EXISTS certificate_sequences (
  year     INTEGER PRIMARY KEY,
  last_seq INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS verification_attempts (
  id                 INTEGER PRIMARY KEY,
  certificate_number TEXT NOT NULL,
  certificate_id     TEXT,
  result             TEXT NOT NULL CHECK (result IN ('valid','expired','revoked','not_found','error')),
  caller_address     TEXT NOT NULL DEFAULT '',
  user_agent         TEXT NOT NULL DEFAULT '',
  attempted_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_number ON verification_attempts(certificate_number, attempted_at);
CREATE TABLE IF NOT EXISTS system_config (
  id                           INTEGER PRIMARY KEY CHECK (id = 1),
  demo_mode                    INTEGER NOT NULL DEFAULT 0,
  presentation_mode            INTEGER NOT NULL DEFAULT 0,
  accelerated_expiry           INTEGER NOT NULL DEFAULT 0,
  accelerated_validity_seconds INTEGER NOT NULL,
  validity_years               INTEGER NOT NULL,
  issuer_name                  TEXT NOT NULL,
  updated_at                   TEXT NOT NULL
);
`

// Open opens (and creates if needed) the sqlite database at path. Every
// transaction takes the write lock up front so read-then-write sequences
// cannot interleave across connections.
func Open(path string, timeout time.Duration) (*DB, error) {
	if timeout <= 0 {
		timeout = DefaultDBTimeout
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db, timeout: timeout, now: time.Now}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SetClock overrides the time source used for stored timestamps.
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

func (d *DB) clock() time.Time {
	return d.now().UTC()
}

func (d *DB) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d.timeout)
}

// inTx runs fn inside a transaction, rolling back on any error.
func (d *DB) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return wrap(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return wrap(op, err)
	}
	if err = tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}
