package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

const finalRecord = `{
  "artgEntry": {"registryNumber": "AUST L 98765", "productName": "Omega Plus", "sponsor": "Acme Health", "status": "Current"},
  "products": [{"productName": "Omega Plus"}],
  "permittedIndications": [{"text": "Supports heart health"}],
  "warnings": [{"text": "Contains fish", "type": "allergen"}],
  "dosageInformation": {"adults": "2 capsules daily"},
  "allergenInformation": {"containsAllergens": ["fish"]},
  "components": [{
    "formulation": "Softgel",
    "dosageForm": "Capsule, soft",
    "activeIngredients": [{"name": "Fish oil", "commonName": "Omega-3", "quantity": "1000 mg"}],
    "excipients": ["Gelatin"]
  }],
  "documentInformation": {"dataEntrySource": "Manufacturer", "dataEntryDate": "2026-01-10", "version": "2"}
}`

type testServer struct {
	*httptest.Server
	srv *Server
	db  *storage.DB
}

func newTestServer(t *testing.T, user, pass string) *testServer {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "server.sqlite"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	holder := sysconfig.NewHolder(db, sysconfig.Defaults())
	_, err = holder.Reload(context.Background())
	require.NoError(t, err)

	srv := New(db, holder, user, pass)
	srv.PublicURL = "https://osi.example"
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, srv: srv, db: db}
}

type call struct {
	method, path, body string
	role, org, user    string
}

func (ts *testServer) do(t *testing.T, c call) (int, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, ts.URL+c.path, body)
	require.NoError(t, err)
	if c.role != "" {
		req.Header.Set(headerRole, c.role)
	}
	if c.org != "" {
		req.Header.Set(headerOrganization, c.org)
	}
	if c.user != "" {
		req.Header.Set(headerUser, c.user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func asManufacturer(method, path, body string) call {
	return call{method: method, path: path, body: body, role: "manufacturer", org: "Acme Health", user: "alice"}
}

func asAdmin(method, path, body string) call {
	return call{method: method, path: path, body: body, role: "admin", user: "root"}
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "u", "p")
	code, body := ts.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestBasicAuthGate(t *testing.T) {
	ts := newTestServer(t, "osi", "secret")

	code, _ := ts.do(t, asManufacturer(http.MethodGet, "/api/submissions", ""))
	assert.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/submissions", nil)
	require.NoError(t, err)
	req.SetBasicAuth("osi", "secret")
	req.Header.Set(headerOrganization, "Acme Health")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, _ = ts.do(t, call{method: http.MethodGet, path: "/api/verify/OSI-2026-000001"})
	assert.Equal(t, http.StatusOK, code)
}

func TestValidateEndpoint(t *testing.T) {
	ts := newTestServer(t, "", "")

	code, body := ts.do(t, asManufacturer(http.MethodPost, "/api/validate?draft=true", `{"artgEntry":{"productName":"X"},"products":[],"components":[]}`))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[map[string]interface{}](t, body)["valid"].(bool))

	code, body = ts.do(t, asManufacturer(http.MethodPost, "/api/validate", `{"artgEntry":{"productName":"X"},"products":[],"components":[]}`))
	require.Equal(t, http.StatusOK, code)
	res := decode[map[string]interface{}](t, body)
	assert.False(t, res["valid"].(bool))
	assert.NotEmpty(t, res["errors"])

	code, _ = ts.do(t, asManufacturer(http.MethodPost, "/api/validate", `{oops`))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmissionErrorsMapToStatusCodes(t *testing.T) {
	ts := newTestServer(t, "", "")

	code, body := ts.do(t, asManufacturer(http.MethodPost, "/api/submissions", `{"status":"submitted","record":{"artgEntry":{"productName":"X"}}}`))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "validation failed", decode[errorBody](t, body).Error)
	assert.NotEmpty(t, decode[errorBody](t, body).Errors)

	code, _ = ts.do(t, asManufacturer(http.MethodGet, "/api/submissions/nope", ""))
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, asManufacturer(http.MethodPost, "/api/submissions", `{"status":"submitted","record":`+finalRecord+`}`))
	require.Equal(t, http.StatusCreated, code)
	sub := decode[storage.Submission](t, body)

	code, _ = ts.do(t, asManufacturer(http.MethodPost, "/api/submissions/"+sub.ID+"/submit", ""))
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, call{method: http.MethodGet, path: "/api/submissions/" + sub.ID, role: "manufacturer", org: "Someone Else"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	ts := newTestServer(t, "", "")
	for _, path := range []string{"/api/stats", "/api/certificates", "/api/admin/config"} {
		code, _ := ts.do(t, asManufacturer(http.MethodGet, path, ""))
		assert.Equal(t, http.StatusForbidden, code, path)
	}
	code, _ := ts.do(t, asAdmin(http.MethodGet, "/api/stats", ""))
	assert.Equal(t, http.StatusOK, code)
}

func TestCertificationOverHTTP(t *testing.T) {
	ts := newTestServer(t, "", "")

	code, body := ts.do(t, asManufacturer(http.MethodPost, "/api/submissions", `{"record":{"artgEntry":{"productName":"Omega Plus"},"products":[],"components":[]}}`))
	require.Equal(t, http.StatusCreated, code, string(body))
	sub := decode[storage.Submission](t, body)
	assert.Equal(t, storage.StatusDraft, sub.Status)

	code, body = ts.do(t, asManufacturer(http.MethodPut, "/api/submissions/"+sub.ID, `{"status":"draft","record":`+finalRecord+`}`))
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = ts.do(t, asManufacturer(http.MethodPost, "/api/submissions/"+sub.ID+"/submit", ""))
	require.Equal(t, http.StatusOK, code, string(body))

	code, _ = ts.do(t, asManufacturer(http.MethodPost, "/api/submissions/"+sub.ID+"/review", ""))
	require.Equal(t, http.StatusForbidden, code)

	code, body = ts.do(t, asAdmin(http.MethodPost, "/api/submissions/"+sub.ID+"/review", ""))
	require.Equal(t, http.StatusOK, code, string(body))
	code, body = ts.do(t, asAdmin(http.MethodPost, "/api/submissions/"+sub.ID+"/approve", `{"notes":"ok"}`))
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, storage.StatusApproved, decode[storage.Submission](t, body).Status)

	code, body = ts.do(t, asAdmin(http.MethodPost, "/api/submissions/"+sub.ID+"/certificate", ""))
	require.Equal(t, http.StatusCreated, code, string(body))
	cert := decode[storage.Certificate](t, body)
	assert.True(t, certs.ValidNumber(cert.CertificateNumber))

	code, _ = ts.do(t, asAdmin(http.MethodPost, "/api/submissions/"+sub.ID+"/certificate", ""))
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(t, call{method: http.MethodGet, path: "/api/verify/" + strings.ToLower(cert.CertificateNumber)})
	require.Equal(t, http.StatusOK, code)
	res := decode[certs.Result](t, body)
	assert.True(t, res.Valid)
	assert.Equal(t, certs.StatusValid, res.Status)
	assert.Empty(t, res.Certificate.ProductName)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/certificates/"+cert.CertificateNumber+"/pdf", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	pdf, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
	assert.NotContains(t, string(pdf), "Omega Plus")
	assert.NotContains(t, string(pdf), "Acme Health")

	code, body = ts.do(t, asAdmin(http.MethodPut, "/api/admin/config", `{"presentationMode":true}`))
	require.Equal(t, http.StatusOK, code, string(body))
	code, pdf = ts.do(t, call{method: http.MethodGet, path: "/api/certificates/" + cert.CertificateNumber + "/pdf"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(pdf), "(Omega Plus)")
	assert.Contains(t, string(pdf), "(Acme Health)")

	code, body = ts.do(t, asAdmin(http.MethodPost, "/api/certificates/"+cert.ID+"/revoke", `{"reason":""}`))
	assert.Equal(t, http.StatusUnprocessableEntity, code, string(body))
	code, body = ts.do(t, asAdmin(http.MethodPost, "/api/certificates/"+cert.ID+"/revoke", `{"reason":"recall"}`))
	require.Equal(t, http.StatusOK, code, string(body))
	code, _ = ts.do(t, asAdmin(http.MethodPost, "/api/certificates/"+cert.ID+"/revoke", `{"reason":"recall"}`))
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(t, call{method: http.MethodGet, path: "/api/verify/" + cert.CertificateNumber})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, certs.StatusRevoked, decode[certs.Result](t, body).Status)

	code, _ = ts.do(t, call{method: http.MethodGet, path: "/api/certificates/" + cert.CertificateNumber + "/pdf"})
	assert.Equal(t, http.StatusGone, code)

	code, body = ts.do(t, asAdmin(http.MethodGet, "/api/certificates/"+cert.CertificateNumber+"/attempts", ""))
	require.Equal(t, http.StatusOK, code)
	attempts := decode[[]storage.VerificationAttempt](t, body)
	require.Len(t, attempts, 2)
	assert.Equal(t, "revoked", attempts[0].Result)
	assert.Equal(t, strings.ToLower(cert.CertificateNumber), attempts[1].CertificateNumber)

	code, body = ts.do(t, asAdmin(http.MethodGet, "/api/certificates?submission="+sub.ID, ""))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]storage.Certificate](t, body), 1)
}

func TestVerifyRecordsCallerAddress(t *testing.T) {
	ts := newTestServer(t, "", "")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/verify/OSI-2026-123456", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.2")
	req.Header.Set("User-Agent", "verifier/1.0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	attempts, err := ts.db.ListVerificationAttempts(context.Background(), "OSI-2026-123456", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "203.0.113.50", attempts[0].CallerAddress)
	assert.Equal(t, "verifier/1.0", attempts[0].UserAgent)
	assert.Equal(t, "not_found", attempts[0].Result)
}

func TestConfigEndpoints(t *testing.T) {
	ts := newTestServer(t, "", "")

	code, body := ts.do(t, asAdmin(http.MethodPut, "/api/admin/config", `{"presentationMode":true,"acceleratedValidity":"2m"}`))
	require.Equal(t, http.StatusOK, code, string(body))
	cfg := decode[sysconfig.SystemConfig](t, body)
	assert.True(t, cfg.PresentationMode)
	assert.Equal(t, 2*time.Minute, cfg.AcceleratedValidity)

	stored, found, err := ts.db.LoadSystemConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, stored.PresentationMode)

	code, _ = ts.do(t, asAdmin(http.MethodPut, "/api/admin/config", `{"validityYears":0}`))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = ts.do(t, asAdmin(http.MethodPut, "/api/admin/config", `{"acceleratedValidity":"soon"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = ts.do(t, asAdmin(http.MethodGet, "/api/admin/config", ""))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[sysconfig.SystemConfig](t, body).PresentationMode)
}
