package workflow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/osi"
	"github.com/osicert/osicert/pkg/storage"
)

var testNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

var (
	manufacturer = Actor{User: "alice", Organization: "Acme Health"}
	competitor   = Actor{User: "mallory", Organization: "Other Co"}
	admin        = Actor{User: "root", Admin: true}
)

const draftRecord = `{"artgEntry":{"productName":"Vitamin X"},"products":[],"components":[]}`

const finalRecord = `{
  "artgEntry": {"registryNumber": "AUST L 123456", "productName": "Vitamin X", "sponsor": "Acme Health Pty Ltd", "status": "Current", "registryStartDate": "2021-03-15"},
  "products": [{"productName": "Vitamin X"}],
  "permittedIndications": [{"text": "Maintain general health"}],
  "warnings": ["If symptoms persist, talk to your health professional."],
  "dosageInformation": {"adults": "Take 1 tablet daily"},
  "allergenInformation": {"containsAllergens": [], "crossContaminationRisk": null},
  "components": [{
    "formulation": "Tablet core",
    "dosageForm": "Tablet",
    "activeIngredients": [{"name": "Colecalciferol", "commonName": "Vitamin D3", "quantity": "25 microgram", "equivalentTo": null}],
    "excipients": ["Microcrystalline cellulose"]
  }],
  "documentInformation": {"dataEntrySource": "Manufacturer", "dataEntryDate": "2026-05-01", "version": "1.0"}
}`

func newTestService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "workflow.sqlite"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetClock(func() time.Time { return testNow })

	svc := NewService(db, nil)
	svc.SetClock(func() time.Time { return testNow })
	return svc, db
}

func requireValidationError(t *testing.T, err error) *osi.ValidationError {
	t.Helper()
	var ve *osi.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve
}

func TestCreateDraftIsLenient(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.Create(context.Background(), manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDraft, sub.Status)
	assert.Equal(t, "Vitamin X", sub.ProductName)
	assert.Equal(t, "Acme Health", sub.OrganizationName)
	assert.Equal(t, "alice", sub.SubmittedBy)
}

func TestCreateSubmittedRunsFinalValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), manufacturer, json.RawMessage(draftRecord), storage.StatusSubmitted)
	ve := requireValidationError(t, err)
	assert.NotEmpty(t, ve.Errors)

	sub, err := svc.Create(context.Background(), manufacturer, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSubmitted, sub.Status)
	assert.NotNil(t, sub.SubmittedAt)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusApproved)
	assert.Equal(t, "status", requireValidationError(t, err).Errors[0].Field)

	_, err = svc.Create(ctx, Actor{User: "bob"}, json.RawMessage(draftRecord), storage.StatusDraft)
	assert.Equal(t, "organizationName", requireValidationError(t, err).Errors[0].Field)

	_, err = svc.Create(ctx, manufacturer, json.RawMessage(`{not json`), storage.StatusDraft)
	requireValidationError(t, err)

	_, err = svc.Create(ctx, manufacturer, json.RawMessage(`{"products":[]}`), storage.StatusDraft)
	ve := requireValidationError(t, err)
	assert.ElementsMatch(t, []string{"artgEntry", "components"}, osi.Result{Errors: ve.Errors}.Fields())
}

func TestCreateCanonicalizesWarnings(t *testing.T) {
	svc, _ := newTestService(t)

	sub, err := svc.Create(context.Background(), manufacturer, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)

	var stored struct {
		Warnings []osi.Warning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(sub.Record, &stored))
	require.Len(t, stored.Warnings, 1)
	assert.Equal(t, osi.Warning{Text: "If symptoms persist, talk to your health professional.", Type: osi.DefaultWarningType, Source: osi.DefaultWarningSource}, stored.Warnings[0])
	assert.Contains(t, string(sub.Record), `"source":"label"`)
}

func TestUpdateTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)

	sub, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(`{"artgEntry":{"productName":"Vitamin Y"},"products":[],"components":[]}`), storage.StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, "Vitamin Y", sub.ProductName)

	_, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(draftRecord), storage.StatusSubmitted)
	requireValidationError(t, err)

	sub, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSubmitted, sub.Status)

	_, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(draftRecord), storage.StatusDraft)
	assert.ErrorIs(t, err, storage.ErrConflict)

	sub, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSubmitted, sub.Status)
}

func TestUpdateAfterReviewConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)
	_, err = svc.StartReview(ctx, admin, sub.ID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(finalRecord), storage.StatusSubmitted)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestSubmitValidatesStoredRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, manufacturer, sub.ID)
	requireValidationError(t, err)

	got, err := svc.Get(ctx, manufacturer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDraft, got.Status)
}

// interleavingStore runs before once, just ahead of the first status change.
type interleavingStore struct {
	Store
	before func()
}

func (s *interleavingStore) ChangeSubmission(ctx context.Context, id string, from storage.SubmissionStatus, upd storage.SubmissionUpdate) (*storage.Submission, error) {
	if s.before != nil {
		before := s.before
		s.before = nil
		before()
	}
	return s.Store.ChangeSubmission(ctx, id, from, upd)
}

func TestSubmitConflictsWhenRecordChangesAfterValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(finalRecord), storage.StatusDraft)
	require.NoError(t, err)

	racing := &interleavingStore{Store: db}
	racing.before = func() {
		_, err := svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(draftRecord), storage.StatusDraft)
		require.NoError(t, err)
	}
	submitter := NewService(racing, nil)
	submitter.SetClock(func() time.Time { return testNow })

	_, err = submitter.Submit(ctx, manufacturer, sub.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := svc.Get(ctx, manufacturer, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDraft, got.Status)
	assert.JSONEq(t, draftRecord, string(got.Record))

	_, err = svc.Submit(ctx, manufacturer, sub.ID)
	requireValidationError(t, err)
}

func TestDoubleSubmitConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)
	_, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(finalRecord), storage.StatusDraft)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, manufacturer, sub.ID)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, manufacturer, sub.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestReviewOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, admin, sub.ID, "")
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = svc.StartReview(ctx, admin, sub.ID)
	require.NoError(t, err)
	approved, err := svc.Approve(ctx, admin, sub.ID, " looks good ")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusApproved, approved.Status)
	assert.Equal(t, "looks good", approved.ReviewNotes)
	assert.Equal(t, "root", approved.ReviewedBy)

	_, err = svc.Reject(ctx, admin, sub.ID, "too late")
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestReject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	submitted, err := svc.Create(ctx, manufacturer, json.RawMessage(finalRecord), storage.StatusSubmitted)
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, admin, submitted.ID, "incomplete evidence")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRejected, rejected.Status)
	assert.JSONEq(t, string(submitted.Record), string(rejected.Record))

	draft, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, admin, draft.ID, "no")
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestOtherOrganizationsCannotSeeSubmission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)
	_, err = svc.Create(ctx, competitor, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)

	_, err = svc.Get(ctx, competitor, sub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.Update(ctx, competitor, sub.ID, json.RawMessage(draftRecord), storage.StatusDraft)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Get(ctx, admin, sub.ID)
	assert.NoError(t, err)

	own, err := svc.List(ctx, manufacturer, storage.SubmissionFilter{Organization: "Other Co"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, sub.ID, own[0].ID)

	all, err := svc.List(ctx, admin, storage.SubmissionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := svc.List(ctx, Actor{User: "anon"}, storage.SubmissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// Draft with only a product name, completed, submitted, approved, issued and
// publicly verified.
func TestCertificationScenario(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, manufacturer, json.RawMessage(draftRecord), storage.StatusDraft)
	require.NoError(t, err)
	_, err = svc.Update(ctx, manufacturer, sub.ID, json.RawMessage(finalRecord), storage.StatusDraft)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, manufacturer, sub.ID)
	require.NoError(t, err)
	_, err = svc.StartReview(ctx, admin, sub.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, admin, sub.ID, "")
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	issuer := &certs.Issuer{Store: db, Now: clock}
	cert, err := issuer.Issue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "OSI-2026-000001", cert.CertificateNumber)
	assert.Equal(t, testNow.AddDate(2, 0, 0), cert.ExpiresAt)

	resolver := &certs.Resolver{Store: db, Now: clock}
	res, err := resolver.Verify(ctx, "OSI-2026-000001", certs.Caller{Address: "198.51.100.7"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, certs.StatusValid, res.Status)

	changes, err := db.ListSubmissionChanges(ctx, sub.ID, 0)
	require.NoError(t, err)
	var path []storage.SubmissionStatus
	for i := len(changes) - 1; i >= 0; i-- {
		path = append(path, changes[i].ToStatus)
	}
	assert.Equal(t, []storage.SubmissionStatus{storage.StatusDraft, storage.StatusSubmitted, storage.StatusUnderReview, storage.StatusApproved}, path)
}
