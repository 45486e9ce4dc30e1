// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package formidentifier extracts credentials from a submitted login form and renders that form as the
// challenge when a request is not authenticated.
package formidentifier

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.pinniped.dev/ldapbind/internal/constable"
	"go.pinniped.dev/ldapbind/internal/dnresolver"
	"go.pinniped.dev/ldapbind/internal/formidentifier/loginhtml"
	"go.pinniped.dev/ldapbind/internal/httputil/securityheader"
	ldapapi "go.pinniped.dev/ldapbind/internal/ldap"
	"go.pinniped.dev/ldapbind/internal/plog"
)

const (
	DefaultLoginField     = "login"
	DefaultPasswordField  = "password"
	DefaultTriggerParam   = "__do_login"
	DefaultName           = "form"
	DefaultTitle          = "LDAP"
	defaultMaxFormBytes   = 1 << 20
	formURLEncodedContent = "application/x-www-form-urlencoded"
	multipartFormContent  = "multipart/form-data"

	ErrResolverRequired = constable.Error("a DN resolver is required")
)

// Config configures a FormIdentifier. Empty fields take their defaults.
type Config struct {
	LoginField    string
	PasswordField string
	TriggerParam  string

	// Name is the identifier plugin name recorded on each identity.
	Name string

	// Title is shown on the login page.
	Title string

	// Resolver computes the DN of each identity. Required.
	Resolver dnresolver.Resolver

	Logger      plog.Logger
	AuditLogger plog.AuditLogger
}

// FormIdentifier implements ldap.Identifier and ldap.Challenger.
type FormIdentifier struct {
	loginField    string
	passwordField string
	triggerParam  string
	name          string
	title         string
	resolver      dnresolver.Resolver
	log           plog.Logger
	audit         plog.AuditLogger
}

var (
	_ ldapapi.Identifier = (*FormIdentifier)(nil)
	_ ldapapi.Challenger = (*FormIdentifier)(nil)
)

// New returns a FormIdentifier, or ErrResolverRequired when c has no Resolver.
func New(c Config) (*FormIdentifier, error) {
	if c.Resolver == nil {
		return nil, ErrResolverRequired
	}

	f := &FormIdentifier{
		loginField:    orDefault(c.LoginField, DefaultLoginField),
		passwordField: orDefault(c.PasswordField, DefaultPasswordField),
		triggerParam:  orDefault(c.TriggerParam, DefaultTriggerParam),
		name:          orDefault(c.Name, DefaultName),
		title:         orDefault(c.Title, DefaultTitle),
		resolver:      c.Resolver,
		log:           c.Logger,
		audit:         c.AuditLogger,
	}
	if f.log == nil {
		f.log = plog.New()
	}
	f.log = f.log.WithName("formidentifier")
	if f.audit == nil {
		f.audit = plog.NewAuditLogger(plog.AuditLogConfig{})
	}
	return f, nil
}

func orDefault(s, def string) string {
	if len(s) == 0 {
		return def
	}
	return s
}

// Name is the identifier plugin name.
func (f *FormIdentifier) Name() string {
	return f.name
}

// TriggerParam is the query parameter which marks a request as a login form submission.
func (f *FormIdentifier) TriggerParam() string {
	return f.triggerParam
}

// Identify returns the identity in a submitted login form. Only POSTs of a form to a URL carrying the
// trigger parameter are considered. The login must not be blank and the password must not be empty.
func (f *FormIdentifier) Identify(r *http.Request) (*ldapapi.FormIdentity, bool) {
	if !f.Triggered(r) || r.Method != http.MethodPost {
		return nil, false
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mediaType != formURLEncodedContent && mediaType != multipartFormContent) {
		f.log.Debug("ignoring login request with unsupported content type", "contentType", r.Header.Get("Content-Type"))
		return nil, false
	}

	r.Body = http.MaxBytesReader(nil, r.Body, defaultMaxFormBytes)
	if mediaType == multipartFormContent {
		err = r.ParseMultipartForm(defaultMaxFormBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		f.log.DebugErr("could not parse login form", err)
		return nil, false
	}

	creds := &ldapapi.Credentials{
		Login:    r.PostForm.Get(f.loginField),
		Password: r.PostForm.Get(f.passwordField),
	}
	if !creds.Complete() || len(strings.TrimSpace(creds.Login)) == 0 {
		return nil, false
	}

	dn, err := f.resolver.ResolveDN(r.Context(), creds)
	if err != nil {
		f.log.DebugErr("could not resolve DN for login form", err)
		return nil, false
	}

	f.audit.Audit(plog.AuditEventIdentityFromForm, &plog.AuditParams{
		ReqCtx:           r.Context(),
		PIIKeysAndValues: []any{"login", creds.Login, "dn", dn},
		KeysAndValues:    []any{"identifier", f.name},
	})

	return &ldapapi.FormIdentity{
		Login:      creds.Login,
		Password:   creds.Password,
		DN:         dn,
		Identifier: f.name,
	}, true
}

// Triggered returns true when the request's query carries the trigger parameter with an empty or
// true value.
func (f *FormIdentifier) Triggered(r *http.Request) bool {
	values, ok := r.URL.Query()[f.triggerParam]
	if !ok {
		return false
	}
	v := values[0]
	if len(v) == 0 {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Challenge responds with the login form and status 401.
func (f *FormIdentifier) Challenge(w http.ResponseWriter, r *http.Request) {
	f.challenge(w, r, "")
}

// ChallengeWithAlert is Challenge with an error message shown above the form.
func (f *FormIdentifier) ChallengeWithAlert(w http.ResponseWriter, r *http.Request, alert string) {
	f.challenge(w, r, alert)
}

func (f *FormIdentifier) challenge(w http.ResponseWriter, r *http.Request, alert string) {
	var buf bytes.Buffer
	err := loginhtml.Template().Execute(&buf, &loginhtml.PageData{
		Title:         f.title,
		HasAlertError: len(alert) > 0,
		AlertMessage:  alert,
		PostPath:      f.postPath(r.URL),
		LoginField:    f.loginField,
		PasswordField: f.passwordField,
	})
	if err != nil {
		f.log.Error("could not render login form", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	f.auditChallenge(r.Context(), len(alert) > 0)

	securityheader.Set(w.Header(), loginhtml.ContentSecurityPolicy())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(buf.Bytes())
}

func (f *FormIdentifier) auditChallenge(ctx context.Context, withAlert bool) {
	f.audit.Audit(plog.AuditEventLoginChallengeIssued, &plog.AuditParams{
		ReqCtx:        ctx,
		KeysAndValues: []any{"identifier", f.name, "withAlert", withAlert},
	})
}

// postPath is the request path with the trigger parameter set. Other query parameters are kept.
func (f *FormIdentifier) postPath(u *url.URL) string {
	query := u.Query()
	query.Set(f.triggerParam, "true")
	path := u.Path
	if len(path) == 0 {
		path = "/"
	}
	return path + "?" + query.Encode()
}
