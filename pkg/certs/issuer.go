package certs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osicert/osicert/pkg/osi"
	"github.com/osicert/osicert/pkg/storage"
)

// Issuer mints certificates for approved submissions.
type Issuer struct {
	Store  Store
	Config ConfigSource
	Now    func() time.Time
	Log    Logger
}

func NewIssuer(store Store, config ConfigSource, log Logger) *Issuer {
	return &Issuer{Store: store, Config: config, Log: log}
}

// Issue allocates the next number of the current year and persists a signed
// certificate for submissionID. It fails with storage.ErrNotFound unless the
// submission is approved, and with storage.ErrConflict when it already holds
// an active certificate.
func (i *Issuer) Issue(ctx context.Context, submissionID string) (*storage.Certificate, error) {
	log := orNop(i.Log)
	cfg := orDefaults(i.Config).Current()
	issuedAt := clock(i.Now).Truncate(time.Second)

	mint := func(seq int, sub *storage.Submission) (*storage.Certificate, error) {
		number, err := FormatNumber(issuedAt.Year(), seq)
		if err != nil {
			return nil, err
		}
		return &storage.Certificate{
			CertificateNumber: number,
			SerialNumber:      fmt.Sprintf("%s-%d", number, issuedAt.UnixMilli()),
			ProductName:       sub.ProductName,
			OrganizationName:  sub.OrganizationName,
			Signature:         Sign(number, sub.ProductName, sub.OrganizationName, issuedAt),
			Status:            storage.CertActive,
			Demo:              cfg.DemoMode,
			IssuedAt:          issuedAt,
			ExpiresAt:         cfg.ExpiryFor(issuedAt),
		}, nil
	}

	cert, err := i.Store.IssueCertificate(ctx, submissionID, issuedAt, mint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrConflict) {
			log.Errorf("issuing certificate for submission %s: %v", submissionID, err)
		}
		return nil, err
	}
	log.Infof("issued certificate %s for submission %s (expires %s)", cert.CertificateNumber, submissionID, cert.ExpiresAt.Format(time.RFC3339))
	return cert, nil
}

// Revoker withdraws active certificates.
type Revoker struct {
	Store Store
	Now   func() time.Time
	Log   Logger
}

func NewRevoker(store Store, log Logger) *Revoker {
	return &Revoker{Store: store, Log: log}
}

// Revoke moves an active, unexpired certificate to revoked. A blank reason is
// a validation error; an already revoked or expired certificate is a conflict.
func (r *Revoker) Revoke(ctx context.Context, certificateID, reason string) (*storage.Certificate, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &osi.ValidationError{Errors: []osi.FieldError{{Field: "reason", Message: "is required", Value: reason}}}
	}
	cert, err := r.Store.RevokeCertificate(ctx, certificateID, reason, clock(r.Now))
	if err != nil {
		return nil, err
	}
	orNop(r.Log).Infof("revoked certificate %s: %s", cert.CertificateNumber, reason)
	return cert, nil
}
