package certs

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/osicert/osicert/pkg/storage"
)

// SignaturePayload is the pipe-joined string a certificate signature covers.
// issuedAt is rendered as RFC 3339 in UTC to the second.
func SignaturePayload(number, productName, organizationName string, issuedAt time.Time) string {
	return strings.Join([]string{number, productName, organizationName, issuedAt.UTC().Format(time.RFC3339)}, "|")
}

// Sign returns the hex SHA-256 digest of the signature payload.
func Sign(number, productName, organizationName string, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(SignaturePayload(number, productName, organizationName, issuedAt)))
	return hex.EncodeToString(sum[:])
}

// CheckSignature recomputes the digest from the stored fields and compares it
// with the stored signature.
func CheckSignature(c *storage.Certificate) bool {
	want := Sign(c.CertificateNumber, c.ProductName, c.OrganizationName, c.IssuedAt)
	return subtle.ConstantTimeCompare([]byte(want), []byte(c.Signature)) == 1
}
