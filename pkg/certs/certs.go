// Package certs issues, revokes and publicly resolves OSI certificates.
package certs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

// Logger abstracts logging so callers can plug in logrus or anything with the
// same four methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Store is the persistence the certificate operations need. *storage.DB
// satisfies it.
type Store interface {
	IssueCertificate(ctx context.Context, submissionID string, issuedAt time.Time, mint storage.Minter) (*storage.Certificate, error)
	RevokeCertificate(ctx context.Context, id, reason string, at time.Time) (*storage.Certificate, error)
	GetCertificateByNumber(ctx context.Context, number string) (*storage.Certificate, error)
	LogVerificationAttempt(ctx context.Context, a storage.VerificationAttempt) error
}

// ConfigSource yields the system configuration in effect. *sysconfig.Holder
// satisfies it.
type ConfigSource interface {
	Current() sysconfig.SystemConfig
}

type staticConfig sysconfig.SystemConfig

func (c staticConfig) Current() sysconfig.SystemConfig { return sysconfig.SystemConfig(c) }

func orDefaults(c ConfigSource) ConfigSource {
	if c == nil {
		return staticConfig(sysconfig.Defaults())
	}
	return c
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

const maxSequence = 999999

var numberPattern = regexp.MustCompile(`^` + storage.CertificatePrefix + `-\d{4}-\d{6}$`)

// FormatNumber renders the public certificate number, e.g. OSI-2026-000042.
func FormatNumber(year, seq int) (string, error) {
	if year < 1000 || year > 9999 {
		return "", fmt.Errorf("certificate year %d out of range", year)
	}
	if seq < 1 || seq > maxSequence {
		return "", fmt.Errorf("certificate sequence %d out of range for %d", seq, year)
	}
	return fmt.Sprintf("%s-%04d-%06d", storage.CertificatePrefix, year, seq), nil
}

// NormalizeNumber trims and upper-cases a number typed by a person.
func NormalizeNumber(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidNumber reports whether s has the OSI-YYYY-NNNNNN shape.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}
