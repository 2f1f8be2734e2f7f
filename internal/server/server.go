package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
	"github.com/osicert/osicert/pkg/workflow"
)

const maxBodyBytes = 1 << 20

// Role headers are set by the fronting proxy after it authenticated the user.
const (
	headerRole         = "X-Role"
	headerOrganization = "X-Organization"
	headerUser         = "X-User"
	roleAdmin          = "admin"
)

type Server struct {
	DB       *storage.DB
	Config   *sysconfig.Holder
	Workflow *workflow.Service
	Issuer   *certs.Issuer
	Revoker  *certs.Revoker
	Resolver *certs.Resolver
	Username string
	Password string
	// PublicURL is printed on rendered certificates as the verification address.
	PublicURL string
	Now       func() time.Time
	Log       *logrus.Logger
}

func New(db *storage.DB, config *sysconfig.Holder, user, pass string) *Server {
	log := utils.Log
	return &Server{
		DB:       db,
		Config:   config,
		Workflow: workflow.NewService(db, log),
		Issuer:   certs.NewIssuer(db, config, log),
		Revoker:  certs.NewRevoker(db, log),
		Resolver: certs.NewResolver(db, config, log),
		Username: user,
		Password: pass,
		Log:      log,
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/verify/{number}", s.handleVerify)
	mux.HandleFunc("GET /api/certificates/{number}/pdf", s.handleCertificatePDF)

	// Manufacturers and administrators
	mux.HandleFunc("POST /api/validate", s.basicAuth(s.handleValidate))
	mux.HandleFunc("GET /api/submissions", s.withActor(s.handleListSubmissions))
	mux.HandleFunc("POST /api/submissions", s.withActor(s.handleCreateSubmission))
	mux.HandleFunc("GET /api/submissions/{id}", s.withActor(s.handleGetSubmission))
	mux.HandleFunc("PUT /api/submissions/{id}", s.withActor(s.handleUpdateSubmission))
	mux.HandleFunc("POST /api/submissions/{id}/submit", s.withActor(s.handleSubmit))

	// Administrators
	mux.HandleFunc("POST /api/submissions/{id}/review", s.adminOnly(s.handleStartReview))
	mux.HandleFunc("POST /api/submissions/{id}/approve", s.adminOnly(s.handleApprove))
	mux.HandleFunc("POST /api/submissions/{id}/reject", s.adminOnly(s.handleReject))
	mux.HandleFunc("POST /api/submissions/{id}/certificate", s.adminOnly(s.handleIssue))
	mux.HandleFunc("GET /api/certificates", s.adminOnly(s.handleListCertificates))
	mux.HandleFunc("POST /api/certificates/{id}/revoke", s.adminOnly(s.handleRevoke))
	mux.HandleFunc("GET /api/certificates/{number}/attempts", s.adminOnly(s.handleAttempts))
	mux.HandleFunc("GET /api/admin/config", s.adminOnly(s.handleGetConfig))
	mux.HandleFunc("PUT /api/admin/config", s.adminOnly(s.handlePutConfig))
	mux.HandleFunc("GET /api/stats", s.adminOnly(s.handleStats))

	return s.logRequests(mux)
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.Log.Infof("Starting server on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !equal(user, s.Username) || !equal(pass, s.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor workflow.Actor)

func actorFrom(r *http.Request) workflow.Actor {
	return workflow.Actor{
		User:         strings.TrimSpace(r.Header.Get(headerUser)),
		Organization: strings.TrimSpace(r.Header.Get(headerOrganization)),
		Admin:        strings.EqualFold(strings.TrimSpace(r.Header.Get(headerRole)), roleAdmin),
	}
}

func (s *Server) withActor(next actorHandler) http.HandlerFunc {
	return s.basicAuth(func(w http.ResponseWriter, r *http.Request) {
		next(w, r, actorFrom(r))
	})
}

func (s *Server) adminOnly(next actorHandler) http.HandlerFunc {
	return s.withActor(func(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
		if !actor.Admin {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "administrator role required"})
			return
		}
		next(w, r, actor)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
		next.ServeHTTP(rec, r)
		s.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
