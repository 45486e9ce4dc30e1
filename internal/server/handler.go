// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/felixge/httpsnoop"
	"k8s.io/apimachinery/pkg/util/sets"

	"go.pinniped.dev/ldapbind/internal/auditid"
	"go.pinniped.dev/ldapbind/internal/formidentifier"
	"go.pinniped.dev/ldapbind/internal/httputil/httperr"
	"go.pinniped.dev/ldapbind/internal/httputil/securityheader"
	ldapapi "go.pinniped.dev/ldapbind/internal/ldap"
	"go.pinniped.dev/ldapbind/internal/metrics"
	"go.pinniped.dev/ldapbind/internal/plog"
)

const (
	maxRequestBytes = 1 << 20

	// Shown above the login form after a failed attempt, whatever the reason.
	loginFailedAlert = "Incorrect username or password."
)

// Authenticator is everything the handlers need from the directory.
type Authenticator interface {
	ldapapi.Authenticator
	ldapapi.IdentityAuthenticator
}

// HandlerConfig wires the HTTP surface to an Authenticator and a login form.
type HandlerConfig struct {
	Authenticator Authenticator
	Form          *formidentifier.FormIdentifier
	Metrics       metrics.Recorder
	AuditLogger   plog.AuditLogger

	// NewAuditID exists to enable testing. Defaults to random UUIDs.
	NewAuditID func() string
}

type handler struct {
	authenticator Authenticator
	form          *formidentifier.FormIdentifier
	audit         plog.AuditLogger
	newAuditID    func() string
}

type authenticateRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// NewHandler returns the routes of the server:
//
//	POST /authenticate  JSON credentials in, the bound DN out
//	GET  /login         the login form
//	POST /login         a submitted login form
//	GET  /healthz
//	GET  /metrics
func NewHandler(c HandlerConfig) http.Handler {
	h := &handler{
		authenticator: c.Authenticator,
		form:          c.Form,
		audit:         c.AuditLogger,
		newAuditID:    c.NewAuditID,
	}
	if h.audit == nil {
		h.audit = plog.NewAuditLogger(plog.AuditLogConfig{})
	}
	m := c.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}

	mux := http.NewServeMux()
	mux.Handle("POST /authenticate", h.withAudit(httperr.HandlerFunc(h.authenticate)))
	mux.Handle("GET /login", h.withAudit(http.HandlerFunc(h.form.Challenge)))
	mux.Handle("POST /login", h.withAudit(http.HandlerFunc(h.login)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", m.Handler())

	return securityheader.Wrap(mux)
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return httperr.NewJSON(http.StatusUnsupportedMediaType, "content type must be application/json")
	}

	var body authenticateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		plog.DebugErr("could not decode authenticate request", err)
		return httperr.NewJSON(http.StatusBadRequest, "invalid request body")
	}

	identity, ok := h.authenticator.Authenticate(r.Context(), &ldapapi.Credentials{Login: body.Login, Password: body.Password})
	if !ok {
		return httperr.NewJSON(http.StatusUnauthorized, "authentication failed")
	}

	httperr.WriteJSON(w, http.StatusOK, identity)
	return nil
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	id, ok := h.form.Identify(r)
	if !ok {
		if h.form.Triggered(r) {
			h.form.ChallengeWithAlert(w, r, loginFailedAlert)
			return
		}
		h.form.Challenge(w, r)
		return
	}

	identity, ok := h.authenticator.AuthenticateIdentity(r.Context(), id)
	if !ok {
		h.form.ChallengeWithAlert(w, r, loginFailedAlert)
		return
	}

	httperr.WriteJSON(w, http.StatusOK, identity)
}

// withAudit gives each request an audit ID, which is also returned in the Audit-ID response header.
// Query parameters are audited with every value except the login trigger redacted.
func (h *handler) withAudit(next http.Handler) http.Handler {
	allowedParams := sets.New(h.form.TriggerParam())
	return auditid.WithAuditID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.audit.Audit(plog.AuditEventHTTPRequestReceived, &plog.AuditParams{
			ReqCtx: r.Context(),
			KeysAndValues: []any{
				"proto", r.Proto,
				"method", r.Method,
				"host", r.Host,
				"path", r.URL.Path,
				"userAgent", r.UserAgent(),
				"remoteAddr", r.RemoteAddr,
			},
		})
		if len(r.URL.RawQuery) > 0 {
			h.audit.Audit(plog.AuditEventHTTPRequestParameters, &plog.AuditParams{
				ReqCtx:        r.Context(),
				KeysAndValues: []any{"params", plog.SanitizeParams(r.URL.Query(), allowedParams)},
			})
		}

		status := http.StatusOK
		next.ServeHTTP(httpsnoop.Wrap(w, httpsnoop.Hooks{
			WriteHeader: func(delegate httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				wroteHeader := false
				return func(code int) {
					if !wroteHeader {
						status = code
						wroteHeader = true
					}
					delegate(code)
				}
			},
		}), r)

		h.audit.Audit(plog.AuditEventHTTPRequestCompleted, &plog.AuditParams{
			ReqCtx:        r.Context(),
			KeysAndValues: []any{"path", r.URL.Path, "responseStatus", status},
		})
	}), h.newAuditID)
}
