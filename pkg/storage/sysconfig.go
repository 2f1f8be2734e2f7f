package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/osicert/osicert/pkg/sysconfig"
)

// LoadSystemConfig reads the persisted system configuration. found is false
// when nothing has been saved yet.
func (d *DB) LoadSystemConfig(ctx context.Context) (cfg sysconfig.SystemConfig, found bool, err error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()

	var (
		demo, presentation, accelerated int
		validitySeconds                 int64
		updatedAt                       string
	)
	err = d.sql.QueryRowContext(ctx, `SELECT demo_mode, presentation_mode, accelerated_expiry, accelerated_validity_seconds, validity_years, issuer_name, updated_at FROM system_config WHERE id = 1`).
		Scan(&demo, &presentation, &accelerated, &validitySeconds, &cfg.ValidityYears, &cfg.IssuerName, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sysconfig.SystemConfig{}, false, nil
	}
	if err != nil {
		return sysconfig.SystemConfig{}, false, wrap("load system config", err)
	}
	cfg.DemoMode = demo == 1
	cfg.PresentationMode = presentation == 1
	cfg.AcceleratedExpiry = accelerated == 1
	cfg.AcceleratedValidity = time.Duration(validitySeconds) * time.Second
	cfg.UpdatedAt = parseTime(updatedAt)
	return cfg, true, nil
}

// SaveSystemConfig replaces the single system configuration row.
func (d *DB) SaveSystemConfig(ctx context.Context, cfg sysconfig.SystemConfig) error {
	return d.inTx(ctx, "save system config", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO system_config(id, demo_mode, presentation_mode, accelerated_expiry, accelerated_validity_seconds, validity_years, issuer_name, updated_at)
			VALUES(1, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				demo_mode = excluded.demo_mode,
				presentation_mode = excluded.presentation_mode,
				accelerated_expiry = excluded.accelerated_expiry,
				accelerated_validity_seconds = excluded.accelerated_validity_seconds,
				validity_years = excluded.validity_years,
				issuer_name = excluded.issuer_name,
				updated_at = excluded.updated_at`,
			boolToInt(cfg.DemoMode), boolToInt(cfg.PresentationMode), boolToInt(cfg.AcceleratedExpiry),
			int64(cfg.AcceleratedValidity/time.Second), cfg.ValidityYears, cfg.IssuerName, formatTime(cfg.UpdatedAt))
		return err
	})
}

var _ sysconfig.Store = (*DB)(nil)
