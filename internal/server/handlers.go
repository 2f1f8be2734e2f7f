package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/osi"
	"github.com/osicert/osicert/pkg/render"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
	"github.com/osicert/osicert/pkg/workflow"
)

type errorBody struct {
	Error  string           `json:"error"`
	Errors []osi.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP. Store failures are logged in
// full and reported to the client without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *osi.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Errors: ve.Errors})
	case errors.Is(err, sysconfig.ErrInvalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.Log.WithError(err).Errorf("%s %s", r.Method, r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	caller := certs.Caller{
		Address:   utils.ClientAddress(r.RemoteAddr, r.Header.Get("X-Forwarded-For")),
		UserAgent: r.UserAgent(),
	}
	res, err := s.Resolver.Verify(r.Context(), r.PathValue("number"), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCertificatePDF(w http.ResponseWriter, r *http.Request) {
	number := certs.NormalizeNumber(r.PathValue("number"))
	if !certs.ValidNumber(number) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "certificate not found"})
		return
	}
	cert, err := s.DB.GetCertificateByNumber(r.Context(), number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res := certs.Resolve(cert, s.now()); !res.Valid {
		writeJSON(w, http.StatusGone, errorBody{Error: res.Message})
		return
	}
	cfg := s.Config.Current()
	var buf bytes.Buffer
	if err := render.Certificate(&buf, publicCertificate(cert, cfg), render.Options{IssuerName: cfg.IssuerName, VerifyURL: s.verifyURL(number)}); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+number+`.pdf"`)
	w.Write(buf.Bytes())
}

// publicCertificate hides the product and its holder unless presentation
// mode is on, matching what the verification endpoint discloses.
func publicCertificate(c *storage.Certificate, cfg sysconfig.SystemConfig) *storage.Certificate {
	if cfg.PresentationMode {
		return c
	}
	out := *c
	out.ProductName = ""
	out.OrganizationName = ""
	return &out
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Server) verifyURL(number string) string {
	if s.PublicURL == "" {
		return ""
	}
	return s.PublicURL + "/api/verify/" + number
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var doc interface{}
	if !decodeBody(w, r, &doc) {
		return
	}
	isDraft, _ := strconv.ParseBool(r.URL.Query().Get("draft"))
	writeJSON(w, http.StatusOK, s.Workflow.Validator.Validate(doc, osi.ModeFor(isDraft)))
}

type submissionRequest struct {
	Status storage.SubmissionStatus `json:"status"`
	Record json.RawMessage          `json:"record"`
}

func (req submissionRequest) target() storage.SubmissionStatus {
	if req.Status == "" {
		return storage.StatusDraft
	}
	return req.Status
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var req submissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := s.Workflow.Create(r.Context(), actor, req.Record, req.target())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var req submissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := s.Workflow.Update(r.Context(), actor, r.PathValue("id"), req.Record, req.target())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	sub, err := s.Workflow.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	q := r.URL.Query()
	subs, err := s.Workflow.List(r.Context(), actor, storage.SubmissionFilter{
		Status:       storage.SubmissionStatus(q.Get("status")),
		Organization: q.Get("organization"),
		Limit:        limitParam(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	sub, err := s.Workflow.Submit(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	sub, err := s.Workflow.StartReview(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type notesRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, v)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var req notesRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sub, err := s.Workflow.Approve(r.Context(), actor, r.PathValue("id"), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var req notesRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sub, err := s.Workflow.Reject(r.Context(), actor, r.PathValue("id"), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	cert, err := s.Issuer.Issue(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var req notesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cert, err := s.Revoker.Revoke(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	q := r.URL.Query()
	list, err := s.DB.ListCertificates(r.Context(), storage.CertificateFilter{
		SubmissionID: q.Get("submission"),
		Status:       storage.CertificateStatus(q.Get("status")),
		Limit:        limitParam(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	attempts, err := s.DB.ListVerificationAttempts(r.Context(), r.PathValue("number"), limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	writeJSON(w, http.StatusOK, s.Config.Current())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	var patch sysconfig.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	if _, err := patch.ApplyTo(s.Config.Current()); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.Config.Apply(r.Context(), func(c sysconfig.SystemConfig) sysconfig.SystemConfig {
		next, _ := patch.ApplyTo(c)
		return next
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Log.Infof("system config changed by %s", actor.User)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
