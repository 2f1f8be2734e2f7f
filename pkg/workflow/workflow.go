// Package workflow moves submissions through draft, submitted, under_review,
// approved and rejected, validating the record before every write that needs it.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/osicert/osicert/pkg/osi"
	"github.com/osicert/osicert/pkg/storage"
)

// Logger abstracts logging so callers can use logrus or any other logger
// with the same methods.
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

// Store is the submission persistence the service needs. *storage.DB satisfies it.
type Store interface {
	CreateSubmission(ctx context.Context, s *storage.Submission) (*storage.Submission, error)
	GetSubmission(ctx context.Context, id string) (*storage.Submission, error)
	ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]storage.Submission, error)
	ChangeSubmission(ctx context.Context, id string, from storage.SubmissionStatus, upd storage.SubmissionUpdate) (*storage.Submission, error)
}

// Actor is the already-authenticated caller of an operation.
type Actor struct {
	User         string
	Organization string
	Admin        bool
}

// canSee reports whether a sees submissions of organization. Administrators
// see every organization.
func (a Actor) canSee(organization string) bool {
	return a.Admin || (a.Organization != "" && a.Organization == organization)
}

// Service is the only writer of submissions.
type Service struct {
	Store     Store
	Validator osi.Validator
	Log       Logger
}

func NewService(store Store, log Logger) *Service {
	return &Service{Store: store, Log: log}
}

func (s *Service) log() Logger {
	if s.Log == nil {
		return nopLogger{}
	}
	return s.Log
}

// SetClock makes business-rule validation use now instead of the wall clock.
func (s *Service) SetClock(now func() time.Time) {
	s.Validator.Now = now
}

func invalid(field, message string, value any) error {
	return &osi.ValidationError{Errors: []osi.FieldError{{Field: field, Message: message, Value: value}}}
}

// prepare parses raw, runs the validator of mode and returns the canonical
// document together with its product name.
func (s *Service) prepare(raw json.RawMessage, mode osi.Mode) (json.RawMessage, string, error) {
	if len(raw) == 0 {
		return nil, "", invalid("", "record is required", nil)
	}
	doc, err := osi.Parse(raw)
	if err != nil {
		return nil, "", invalid("", "record is not valid JSON", nil)
	}
	if err := s.Validator.Validate(doc, mode).Err(); err != nil {
		return nil, "", err
	}
	doc = osi.Canonicalize(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("encode record: %w", err)
	}
	return out, osi.ProductName(doc), nil
}

// validateStored runs final validation over the record already persisted on sub.
func (s *Service) validateStored(sub *storage.Submission) error {
	doc, err := osi.Parse(sub.Record)
	if err != nil {
		return invalid("", "stored record is not valid JSON", nil)
	}
	return s.Validator.Validate(doc, osi.Final).Err()
}

func targetMode(target storage.SubmissionStatus) (osi.Mode, error) {
	switch target {
	case storage.StatusDraft:
		return osi.Draft, nil
	case storage.StatusSubmitted:
		return osi.Final, nil
	default:
		return 0, invalid("status", "must be draft or submitted", string(target))
	}
}

// Create stores a new submission for the actor's organization in target
// status, which must be draft or submitted.
func (s *Service) Create(ctx context.Context, actor Actor, record json.RawMessage, target storage.SubmissionStatus) (*storage.Submission, error) {
	mode, err := targetMode(target)
	if err != nil {
		return nil, err
	}
	org := strings.TrimSpace(actor.Organization)
	if org == "" {
		return nil, invalid("organizationName", "is required", actor.Organization)
	}
	canonical, product, err := s.prepare(record, mode)
	if err != nil {
		return nil, err
	}
	sub, err := s.Store.CreateSubmission(ctx, &storage.Submission{
		OrganizationName: org,
		SubmittedBy:      actor.User,
		ProductName:      product,
		Status:           target,
		Record:           canonical,
	})
	if err != nil {
		return nil, err
	}
	s.log().Infof("created %s submission %s (%s) for %s", sub.Status, sub.ID, sub.ProductName, sub.OrganizationName)
	return sub, nil
}

// Update replaces the record of a draft or submitted submission. A draft may
// stay a draft or move to submitted; a submitted record stays submitted.
func (s *Service) Update(ctx context.Context, actor Actor, id string, record json.RawMessage, target storage.SubmissionStatus) (*storage.Submission, error) {
	mode, err := targetMode(target)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == storage.StatusDraft:
	case current.Status == storage.StatusSubmitted && target == storage.StatusSubmitted:
	default:
		return nil, fmt.Errorf("%w: submission %s is %s and cannot become %s", storage.ErrConflict, id, current.Status, target)
	}
	canonical, product, err := s.prepare(record, mode)
	if err != nil {
		return nil, err
	}
	sub, err := s.Store.ChangeSubmission(ctx, id, current.Status, storage.SubmissionUpdate{
		To:          target,
		Record:      canonical,
		ProductName: product,
		Actor:       actor.User,
	})
	if err != nil {
		return nil, err
	}
	s.log().Debugf("updated submission %s (%s -> %s)", id, current.Status, sub.Status)
	return sub, nil
}

// Submit moves a draft to submitted once its stored record passes final validation.
func (s *Service) Submit(ctx context.Context, actor Actor, id string) (*storage.Submission, error) {
	return s.advance(ctx, actor, id, storage.StatusDraft, storage.StatusSubmitted, "", true)
}

// StartReview moves a submitted record under review.
func (s *Service) StartReview(ctx context.Context, actor Actor, id string) (*storage.Submission, error) {
	return s.advance(ctx, actor, id, storage.StatusSubmitted, storage.StatusUnderReview, "", true)
}

// Approve moves a record under review to approved. Approved records are immutable.
func (s *Service) Approve(ctx context.Context, actor Actor, id, notes string) (*storage.Submission, error) {
	return s.advance(ctx, actor, id, storage.StatusUnderReview, storage.StatusApproved, notes, true)
}

// Reject ends a submitted or under-review record. The record itself is not
// validated or changed.
func (s *Service) Reject(ctx context.Context, actor Actor, id, notes string) (*storage.Submission, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(storage.StatusRejected) {
		return nil, fmt.Errorf("%w: submission %s is %s and cannot be rejected", storage.ErrConflict, id, current.Status)
	}
	return s.advance(ctx, actor, id, current.Status, storage.StatusRejected, notes, false)
}

func (s *Service) advance(ctx context.Context, actor Actor, id string, from, to storage.SubmissionStatus, notes string, validate bool) (*storage.Submission, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, fmt.Errorf("%w: submission %s is %s, expected %s", storage.ErrConflict, id, current.Status, from)
	}
	upd := storage.SubmissionUpdate{To: to, Actor: actor.User, Notes: strings.TrimSpace(notes)}
	if validate {
		if err := s.validateStored(current); err != nil {
			return nil, err
		}
		// The status only moves if the record validated above is still the stored one.
		upd.IfRecord = current.Record
	}
	sub, err := s.Store.ChangeSubmission(ctx, id, from, upd)
	if err != nil {
		return nil, err
	}
	s.log().Infof("submission %s: %s -> %s by %s", id, from, to, actor.User)
	return sub, nil
}

// Get returns a submission visible to actor. Submissions of other
// organizations are reported as not found.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*storage.Submission, error) {
	sub, err := s.Store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canSee(sub.OrganizationName) {
		return nil, fmt.Errorf("%w: submission %s", storage.ErrNotFound, id)
	}
	return sub, nil
}

// List returns submissions visible to actor. Non-administrators only ever
// see their own organization.
func (s *Service) List(ctx context.Context, actor Actor, filter storage.SubmissionFilter) ([]storage.Submission, error) {
	if !actor.Admin {
		if actor.Organization == "" {
			return []storage.Submission{}, nil
		}
		filter.Organization = actor.Organization
	}
	return s.Store.ListSubmissions(ctx, filter)
}
