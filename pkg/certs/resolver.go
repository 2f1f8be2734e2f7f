package certs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osicert/osicert/pkg/storage"
)

// Status is the public outcome of a verification.
type Status string

const (
	StatusValid    Status = "valid"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusNotFound Status = "not_found"
)

// resultError is only ever written to the attempt log, never returned.
const resultError = "error"

// DefaultAttemptTimeout bounds the audit write that follows every lookup.
const DefaultAttemptTimeout = 2 * time.Second

// maxLoggedInput caps how much of an arbitrary public input reaches the audit log.
const maxLoggedInput = 64

// PublicCertificate is the part of a certificate shown to anonymous callers.
// Names are left empty unless presentation mode is on.
type PublicCertificate struct {
	CertificateNumber string     `json:"certificateNumber"`
	ProductName       string     `json:"productName,omitempty"`
	OrganizationName  string     `json:"organizationName,omitempty"`
	Demo              bool       `json:"demo"`
	IssuedAt          time.Time  `json:"issuedAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	RevocationReason  string     `json:"revocationReason,omitempty"`
}

// Result is what a verification returns.
type Result struct {
	Valid       bool               `json:"valid"`
	Status      Status             `json:"status"`
	Message     string             `json:"message"`
	Certificate *PublicCertificate `json:"certificate,omitempty"`
}

// Caller identifies who asked, for the audit log.
type Caller struct {
	Address   string
	UserAgent string
}

func notFound() Result {
	return Result{Status: StatusNotFound, Message: "No certificate with this number exists"}
}

// Resolve derives the verification outcome of c at now. A nil certificate is
// not_found. Revocation wins over expiry, and expiry is always computed from
// ExpiresAt regardless of the stored status.
func Resolve(c *storage.Certificate, now time.Time) Result {
	if c == nil {
		return notFound()
	}
	pub := &PublicCertificate{
		CertificateNumber: c.CertificateNumber,
		ProductName:       c.ProductName,
		OrganizationName:  c.OrganizationName,
		Demo:              c.Demo,
		IssuedAt:          c.IssuedAt,
		ExpiresAt:         c.ExpiresAt,
		RevokedAt:         c.RevokedAt,
		RevocationReason:  c.RevocationReason,
	}
	var res Result
	switch {
	case c.Status == storage.CertRevoked:
		res = Result{Status: StatusRevoked, Message: "This certificate has been revoked"}
		if c.RevocationReason != "" {
			res.Message += ": " + c.RevocationReason
		}
	case !c.ExpiresAt.After(now):
		res = Result{Status: StatusExpired, Message: fmt.Sprintf("This certificate expired on %s", c.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))}
	default:
		res = Result{Valid: true, Status: StatusValid, Message: fmt.Sprintf("This certificate is valid until %s", c.ExpiresAt.UTC().Format("2006-01-02"))}
	}
	if c.Demo {
		res.Message += " (demonstration certificate)"
	}
	res.Certificate = pub
	return res
}

// Resolver answers public verification requests and audits each of them.
type Resolver struct {
	Store  Store
	Config ConfigSource
	Now    func() time.Time
	Log    Logger
	// AttemptTimeout bounds the audit write; zero means DefaultAttemptTimeout.
	AttemptTimeout time.Duration
}

func NewResolver(store Store, config ConfigSource, log Logger) *Resolver {
	return &Resolver{Store: store, Config: config, Log: log}
}

// Verify resolves number and records exactly one verification attempt. Only a
// store failure during the lookup is returned as an error; failing to record
// the attempt is logged and otherwise ignored.
func (r *Resolver) Verify(ctx context.Context, number string, caller Caller) (Result, error) {
	now := clock(r.Now)
	normalized := NormalizeNumber(number)

	if !ValidNumber(normalized) {
		res := notFound()
		r.record(ctx, number, "", string(res.Status), caller, now)
		return res, nil
	}

	cert, err := r.Store.GetCertificateByNumber(ctx, normalized)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cert = nil
	case err != nil:
		orNop(r.Log).Errorf("verification lookup of %s: %v", normalized, err)
		r.record(ctx, number, "", resultError, caller, now)
		return Result{}, err
	}

	res := Resolve(cert, now)
	certID := ""
	if cert != nil {
		certID = cert.ID
	}
	r.record(ctx, number, certID, string(res.Status), caller, now)

	if res.Certificate != nil && !orDefaults(r.Config).Current().PresentationMode {
		res.Certificate.ProductName = ""
		res.Certificate.OrganizationName = ""
	}
	return res, nil
}

func (r *Resolver) record(ctx context.Context, input, certID, result string, caller Caller, at time.Time) {
	timeout := r.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := r.Store.LogVerificationAttempt(ctx, storage.VerificationAttempt{
		CertificateNumber: truncate(input, maxLoggedInput),
		CertificateID:     certID,
		Result:            result,
		CallerAddress:     caller.Address,
		UserAgent:         truncate(caller.UserAgent, 256),
		AttemptedAt:       at,
	})
	if err != nil {
		orNop(r.Log).Warnf("recording verification attempt for %q: %v", input, err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
