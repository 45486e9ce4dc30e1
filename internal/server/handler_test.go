// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"go.pinniped.dev/ldapbind/internal/formidentifier"
	"go.pinniped.dev/ldapbind/internal/formidentifier/loginhtml"
	"go.pinniped.dev/ldapbind/internal/metrics"
	"go.pinniped.dev/ldapbind/internal/plog"
	"go.pinniped.dev/ldapbind/internal/testutil"
	"go.pinniped.dev/ldapbind/internal/testutil/fakeldap"
	"go.pinniped.dev/ldapbind/internal/upstreamldap"
)

const (
	testBaseDN          = "ou=people,dc=example,dc=org"
	testServiceDN       = "cn=service,dc=example,dc=org"
	testServicePassword = "service-password"
	testCarlaDN         = "uid=carla,ou=people,dc=example,dc=org"
)

func newTestDirectory() *fakeldap.Directory {
	return fakeldap.New(
		&fakeldap.Entry{DN: testServiceDN, Password: testServicePassword},
		&fakeldap.Entry{DN: testCarlaDN, Password: "hello", Attributes: map[string][]string{"uid": {"carla"}}},
	)
}

func newTestHandler(t *testing.T, dir *fakeldap.Directory) (http.Handler, *bytes.Buffer) {
	t.Helper()

	auditLogger, auditLog := plog.TestAuditLogger(t)
	logger, _ := plog.TestLogger(t)

	provider, err := upstreamldap.New(upstreamldap.ProviderConfig{
		Name:         "test",
		URL:          "ldap://ldap.example.org",
		Dialer:       dir.Dialer(),
		BindDN:       testServiceDN,
		BindPassword: testServicePassword,
		BaseDN:       testBaseDN,
		Logger:       logger,
		AuditLogger:  auditLogger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, provider.Close()) })

	form, err := formidentifier.New(formidentifier.Config{
		Resolver:    provider.Resolver(),
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	require.NoError(t, err)

	return NewHandler(HandlerConfig{
		Authenticator: provider,
		Form:          form,
		AuditLogger:   auditLogger,
		NewAuditID:    func() string { return "fake-audit-id" },
	}), auditLog
}

func requireBody(t *testing.T, rsp *http.Response, wantStatus int, wantBody string) {
	t.Helper()
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	require.NoError(t, rsp.Body.Close())
	require.Equal(t, wantStatus, rsp.StatusCode)
	require.Equal(t, wantBody, string(body))
}

func TestHandler(t *testing.T) {
	jsonRequest := func(body string) func() *http.Request {
		return func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/authenticate", strings.NewReader(body))
			r.Header.Set("Content-Type", "application/json")
			return r
		}
	}
	formRequest := func(target string, values url.Values) func() *http.Request {
		return func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return r
		}
	}

	tests := []struct {
		name            string
		request         func() *http.Request
		wantStatus      int
		wantContentType string
		wantBody        string
		wantContains    []string
		wantLoginCSP    bool
		wantBinds       int
	}{
		{
			name:            "authenticate with good credentials",
			request:         jsonRequest(`{"login":"carla","password":"hello"}`),
			wantStatus:      http.StatusOK,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"dn":"uid=carla,ou=people,dc=example,dc=org"}` + "\n",
			wantBinds:       3, // service, carla, service again
		},
		{
			name:            "authenticate with a wrong password",
			request:         jsonRequest(`{"login":"carla","password":"nope"}`),
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"error":"authentication failed"}` + "\n",
			wantBinds:       3,
		},
		{
			name:            "authenticate with an empty password never reaches the directory",
			request:         jsonRequest(`{"login":"carla","password":""}`),
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"error":"authentication failed"}` + "\n",
		},
		{
			name:            "authenticate with a body which is not JSON",
			request:         jsonRequest(`login=carla`),
			wantStatus:      http.StatusBadRequest,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"error":"invalid request body"}` + "\n",
		},
		{
			name: "authenticate with the wrong content type",
			request: func() *http.Request {
				r := jsonRequest(`{"login":"carla","password":"hello"}`)()
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			wantStatus:      http.StatusUnsupportedMediaType,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"error":"content type must be application/json"}` + "\n",
		},
		{
			name: "authenticate with GET",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/authenticate", nil)
			},
			wantStatus:      http.StatusMethodNotAllowed,
			wantContentType: "text/plain; charset=utf-8",
			wantBody:        "Method Not Allowed\n",
		},
		{
			name: "login page",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/login", nil)
			},
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "text/html; charset=utf-8",
			wantContains:    []string{`<form action="/login?__do_login=true" method="post">`},
			wantLoginCSP:    true,
		},
		{
			name:            "login form with good credentials",
			request:         formRequest("/login?__do_login=true", url.Values{"login": {"carla"}, "password": {"hello"}}),
			wantStatus:      http.StatusOK,
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"dn":"uid=carla,ou=people,dc=example,dc=org"}` + "\n",
			wantBinds:       3,
		},
		{
			name:            "login form with a wrong password",
			request:         formRequest("/login?__do_login=true", url.Values{"login": {"carla"}, "password": {"nope"}}),
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "text/html; charset=utf-8",
			wantContains:    []string{"Incorrect username or password."},
			wantLoginCSP:    true,
			wantBinds:       3,
		},
		{
			name:            "login form with a blank password",
			request:         formRequest("/login?__do_login=true", url.Values{"login": {"carla"}, "password": {""}}),
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "text/html; charset=utf-8",
			wantContains:    []string{"Incorrect username or password."},
			wantLoginCSP:    true,
		},
		{
			name:            "form post without the trigger parameter",
			request:         formRequest("/login", url.Values{"login": {"carla"}, "password": {"hello"}}),
			wantStatus:      http.StatusUnauthorized,
			wantContentType: "text/html; charset=utf-8",
			wantContains:    []string{`<form action="/login?__do_login=true" method="post">`},
			wantLoginCSP:    true,
		},
		{
			name: "health check",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/healthz", nil)
			},
			wantStatus:      http.StatusOK,
			wantContentType: "text/plain; charset=utf-8",
			wantBody:        "ok",
		},
		{
			name: "metrics are disabled",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/metrics", nil)
			},
			wantStatus:      http.StatusNotFound,
			wantContentType: "text/plain; charset=utf-8",
			wantBody:        "404 page not found\n",
		},
	}
	for _, test := range tests {
		tt := test
		t.Run(tt.name, func(t *testing.T) {
			dir := newTestDirectory()
			handler, _ := newTestHandler(t, dir)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.request())

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantContentType, rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rec.Body.String())
			}
			for _, want := range tt.wantContains {
				require.Contains(t, rec.Body.String(), want)
			}

			require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			if tt.wantLoginCSP {
				require.Equal(t, loginhtml.ContentSecurityPolicy(), rec.Header().Get("Content-Security-Policy"))
			} else {
				require.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
			}

			require.Equal(t, tt.wantBinds, dir.Binds())
		})
	}
}

func TestHandlerAuditsRequests(t *testing.T) {
	handler, auditLog := newTestHandler(t, newTestDirectory())

	values := url.Values{"login": {"carla"}, "password": {"hello"}}
	r := httptest.NewRequest(http.MethodPost, "/login?__do_login=true&password=leaked", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fake-audit-id", rec.Header().Get("Audit-ID"))

	testutil.CompareAuditLogs(t, []testutil.WantedAuditLog{
		testutil.WantAuditLog("HTTP Request Received", map[string]any{
			"proto":      "HTTP/1.1",
			"method":     "POST",
			"host":       "example.com",
			"path":       "/login",
			"userAgent":  "",
			"remoteAddr": "192.0.2.1:1234",
		}, "fake-audit-id"),
		testutil.WantAuditLog("HTTP Request Parameters", map[string]any{
			"params": "__do_login=true&password=redacted",
		}, "fake-audit-id"),
		testutil.WantAuditLog("Identity From Form", map[string]any{
			"personalInfo": map[string]any{"login": "carla", "dn": testCarlaDN},
			"identifier":   "form",
		}, "fake-audit-id"),
		testutil.WantAuditLog("Authentication Succeeded", map[string]any{
			"personalInfo": map[string]any{"login": "carla", "dn": testCarlaDN},
		}, "fake-audit-id"),
		testutil.WantAuditLog("HTTP Request Completed", map[string]any{
			"path":           "/login",
			"responseStatus": float64(200),
		}, "fake-audit-id"),
	}, auditLog.String())
	require.NotContains(t, auditLog.String(), "leaked")
}

func TestHandlerServesMetrics(t *testing.T) {
	dir := newTestDirectory()
	provider, err := upstreamldap.New(upstreamldap.ProviderConfig{
		URL:    "ldap://ldap.example.org",
		Dialer: dir.Dialer(),
		BaseDN: testBaseDN,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, provider.Close()) })

	form, err := formidentifier.New(formidentifier.Config{Resolver: provider.Resolver()})
	require.NoError(t, err)

	handler := NewHandler(HandlerConfig{
		Authenticator: provider,
		Form:          form,
		Metrics:       metrics.Init(true),
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
