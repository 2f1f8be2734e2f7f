package storage

import (
	"encoding/json"
	"time"
)

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusDraft       SubmissionStatus = "draft"
	StatusSubmitted   SubmissionStatus = "submitted"
	StatusUnderReview SubmissionStatus = "under_review"
	StatusApproved    SubmissionStatus = "approved"
	StatusRejected    SubmissionStatus = "rejected"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusDraft:       {StatusSubmitted},
	StatusSubmitted:   {StatusUnderReview, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
}

func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Submission is one manufacturer submission and its OSI record.
type Submission struct {
	ID               string           `json:"id"`
	OrganizationName string           `json:"organizationName"`
	SubmittedBy      string           `json:"submittedBy"`
	ProductName      string           `json:"productName"`
	Status           SubmissionStatus `json:"status"`
	Record           json.RawMessage  `json:"record"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	SubmittedAt      *time.Time       `json:"submittedAt,omitempty"`
	ReviewedAt       *time.Time       `json:"reviewedAt,omitempty"`
	ReviewedBy       string           `json:"reviewedBy,omitempty"`
	ReviewNotes      string           `json:"reviewNotes,omitempty"`
}

// SubmissionUpdate describes a conditional change to a submission.
type SubmissionUpdate struct {
	To          SubmissionStatus
	Record      json.RawMessage // nil leaves the record untouched
	IfRecord    json.RawMessage // when set, the stored record must still equal it
	ProductName string
	Actor       string
	Notes       string
}

// SubmissionFilter controls selection when listing submissions.
type SubmissionFilter struct {
	Status       SubmissionStatus
	Organization string
	Limit        int
}

// Change captures a single status transition for auditing or printing.
type Change struct {
	OccurredAt   time.Time        `json:"occurredAt"`
	SubmissionID string           `json:"submissionId"`
	ProductName  string           `json:"productName"`
	FromStatus   SubmissionStatus `json:"fromStatus"`
	ToStatus     SubmissionStatus `json:"toStatus"`
	Actor        string           `json:"actor"`
}

// CertificateStatus is the stored state of a certificate. Expiry is normally
// derived from ExpiresAt at read time.
type CertificateStatus string

const (
	CertActive  CertificateStatus = "active"
	CertExpired CertificateStatus = "expired"
	CertRevoked CertificateStatus = "revoked"
)

type Certificate struct {
	ID                string            `json:"id"`
	CertificateNumber string            `json:"certificateNumber"`
	SerialNumber      string            `json:"serialNumber"`
	SubmissionID      string            `json:"submissionId"`
	ProductName       string            `json:"productName"`
	OrganizationName  string            `json:"organizationName"`
	Signature         string            `json:"signature"`
	Status            CertificateStatus `json:"status"`
	Demo              bool              `json:"demo"`
	IssuedAt          time.Time         `json:"issuedAt"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	RevokedAt         *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason  string            `json:"revocationReason,omitempty"`
}

// Minter builds the certificate for an approved submission once the year
// sequence number has been allocated.
type Minter func(seq int, sub *Submission) (*Certificate, error)

// CertificateFilter controls selection when listing certificates.
type CertificateFilter struct {
	SubmissionID string
	Status       CertificateStatus
	Limit        int
}

// VerificationAttempt is one append-only public lookup.
type VerificationAttempt struct {
	ID                int64     `json:"id"`
	CertificateNumber string    `json:"certificateNumber"`
	CertificateID     string    `json:"certificateId,omitempty"`
	Result            string    `json:"result"`
	CallerAddress     string    `json:"callerAddress"`
	UserAgent         string    `json:"userAgent"`
	AttemptedAt       time.Time `json:"attemptedAt"`
}

// StatusCount is one row of the aggregate statistics.
type StatusCount struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}
