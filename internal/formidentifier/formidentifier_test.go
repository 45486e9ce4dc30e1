// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package formidentifier

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"go.pinniped.dev/ldapbind/internal/dnresolver"
	"go.pinniped.dev/ldapbind/internal/formidentifier/loginhtml"
	ldapapi "go.pinniped.dev/ldapbind/internal/ldap"
	"go.pinniped.dev/ldapbind/internal/plog"
	"go.pinniped.dev/ldapbind/internal/testutil"
)

const testBaseDN = "dc=example,dc=org"

func formRequest(target string, values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func multipartRequest(t *testing.T, target string, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	r := httptest.NewRequest(http.MethodPost, target, &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func newFormIdentifier(t *testing.T, c Config) *FormIdentifier {
	t.Helper()
	f, err := New(c)
	require.NoError(t, err)
	return f
}

func TestIdentify(t *testing.T) {
	templateResolver := &dnresolver.Template{BaseDN: testBaseDN}
	good := url.Values{"login": {"carla"}, "password": {"hello"}}

	tests := []struct {
		name     string
		config   Config
		request  func(t *testing.T) *http.Request
		wantID   *ldapapi.FormIdentity
		wantLogs bool
	}{
		{
			name:    "no trigger parameter",
			request: func(t *testing.T) *http.Request { return formRequest("/login", good) },
		},
		{
			name: "trigger parameter on a GET",
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/login?__do_login=true&login=carla&password=hello", nil)
			},
		},
		{
			name:    "trigger parameter is false",
			request: func(t *testing.T) *http.Request { return formRequest("/login?__do_login=false", good) },
		},
		{
			name:    "trigger parameter is not a bool",
			request: func(t *testing.T) *http.Request { return formRequest("/login?__do_login=please", good) },
		},
		{
			name: "unsupported content type",
			request: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/login?__do_login", strings.NewReader(`{"login":"carla","password":"hello"}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
		},
		{
			name: "missing content type",
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/login?__do_login", strings.NewReader(good.Encode()))
			},
		},
		{
			name: "blank password",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", url.Values{"login": {"carla"}, "password": {""}})
			},
		},
		{
			name: "login of only whitespace",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", url.Values{"login": {" \t "}, "password": {"hello"}})
			},
		},
		{
			name: "surrounding whitespace in the password is kept",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", url.Values{"login": {"carla"}, "password": {" hello "}})
			},
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: " hello ", DN: "uid=carla," + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name: "missing login",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", url.Values{"password": {"hello"}})
			},
		},
		{
			name:     "urlencoded form with an empty trigger value",
			request:  func(t *testing.T) *http.Request { return formRequest("/login?__do_login", good) },
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla," + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name:     "urlencoded form with a true trigger value",
			request:  func(t *testing.T) *http.Request { return formRequest("/login?__do_login=1", good) },
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla," + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name: "multipart form",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/login?__do_login=true", map[string]string{"login": "carla", "password": "hello"})
			},
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla," + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name: "query parameters do not count as form fields",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login&login=carla&password=hello", url.Values{})
			},
		},
		{
			name: "login with DN special characters is escaped",
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", url.Values{"login": {"carla,ou=admins"}, "password": {"hello"}})
			},
			wantID:   &ldapapi.FormIdentity{Login: "carla,ou=admins", Password: "hello", DN: `uid=carla\,ou=admins,` + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name: "custom field names, trigger and name",
			config: Config{
				LoginField:    "user",
				PasswordField: "secret",
				TriggerParam:  "submit",
				Name:          "corp-form",
			},
			request: func(t *testing.T) *http.Request {
				return formRequest("/?submit=true", url.Values{"user": {"carla"}, "secret": {"hello"}, "login": {"nope"}})
			},
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla," + testBaseDN, Identifier: "corp-form"},
			wantLogs: true,
		},
		{
			name:   "custom fields are required when configured",
			config: Config{LoginField: "user", PasswordField: "secret"},
			request: func(t *testing.T) *http.Request {
				return formRequest("/login?__do_login", good)
			},
		},
		{
			name: "custom resolver",
			config: Config{
				Resolver: dnresolver.Func(func(_ context.Context, creds *ldapapi.Credentials) (string, error) {
					return "uid=" + creds.Login + ",ou=admins," + testBaseDN, nil
				}),
			},
			request:  func(t *testing.T) *http.Request { return formRequest("/login?__do_login", good) },
			wantID:   &ldapapi.FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla,ou=admins," + testBaseDN, Identifier: "form"},
			wantLogs: true,
		},
		{
			name: "resolver error",
			config: Config{
				Resolver: dnresolver.Func(func(context.Context, *ldapapi.Credentials) (string, error) {
					return "", errors.New("some resolver error")
				}),
			},
			request: func(t *testing.T) *http.Request { return formRequest("/login?__do_login", good) },
		},
		{
			name:    "passthrough resolver with a login which is not a DN",
			config:  Config{Resolver: dnresolver.Passthrough{}},
			request: func(t *testing.T) *http.Request { return formRequest("/login?__do_login", good) },
		},
	}
	for _, test := range tests {
		tt := test
		t.Run(tt.name, func(t *testing.T) {
			auditLogger, auditLog := plog.TestAuditLogger(t)
			logger, _ := plog.TestLogger(t)

			config := tt.config
			if config.Resolver == nil {
				config.Resolver = templateResolver
			}
			config.Logger = logger
			config.AuditLogger = auditLogger

			id, ok := newFormIdentifier(t, config).Identify(tt.request(t))
			require.Equal(t, tt.wantID != nil, ok)
			require.Equal(t, tt.wantID, id)

			if !tt.wantLogs {
				require.Empty(t, auditLog.String())
				return
			}
			lines := testutil.SplitByNewline(auditLog.String())
			require.Len(t, lines, 1)
			require.Contains(t, lines[0], `"message":"Identity From Form"`)
			require.Contains(t, lines[0], `"auditEvent":true`)
			require.Contains(t, lines[0], `"identifier":"`+tt.wantID.Identifier+`"`)
			require.Contains(t, lines[0], `"login":"`+tt.wantID.Login+`"`)
			require.NotContains(t, lines[0], tt.wantID.Password)
		})
	}
}

func TestIdentifyAuditID(t *testing.T) {
	auditLogger, auditLog := plog.TestAuditLogger(t)
	f := newFormIdentifier(t, Config{Resolver: &dnresolver.Template{BaseDN: testBaseDN}, AuditLogger: auditLogger})

	r := formRequest("/login?__do_login", url.Values{"login": {"carla"}, "password": {"hello"}})
	r = r.WithContext(plog.WithAuditID(r.Context(), "some-audit-id"))

	_, ok := f.Identify(r)
	require.True(t, ok)
	require.Contains(t, auditLog.String(), `"auditID":"some-audit-id"`)
}

func TestIdentifyRejectsOversizedForms(t *testing.T) {
	f := newFormIdentifier(t, Config{Resolver: &dnresolver.Template{BaseDN: testBaseDN}})

	values := url.Values{
		"login":    {"carla"},
		"password": {"hello"},
		"padding":  {strings.Repeat("x", defaultMaxFormBytes)},
	}
	id, ok := f.Identify(formRequest("/login?__do_login", values))
	require.False(t, ok)
	require.Nil(t, id)
}

func TestNewRequiresResolver(t *testing.T) {
	f, err := New(Config{Name: "form"})
	require.ErrorIs(t, err, ErrResolverRequired)
	require.EqualError(t, err, "a DN resolver is required")
	require.Nil(t, f)
}

func TestDefaults(t *testing.T) {
	f := newFormIdentifier(t, Config{Resolver: dnresolver.Passthrough{}})
	require.Equal(t, "form", f.Name())
	require.Equal(t, "__do_login", f.TriggerParam())

	f = newFormIdentifier(t, Config{Resolver: dnresolver.Passthrough{}, Name: "other", TriggerParam: "go"})
	require.Equal(t, "other", f.Name())
	require.Equal(t, "go", f.TriggerParam())
}

func TestChallenge(t *testing.T) {
	tests := []struct {
		name         string
		config       Config
		target       string
		alert        string
		wantPostPath string
		wantContains []string
		wantMissing  []string
	}{
		{
			name:         "default form",
			target:       "/login",
			wantPostPath: "/login?__do_login=true",
			wantContains: []string{
				"<title>LDAP</title>",
				`name="login" id="login"`,
				`name="password" id="password"`,
			},
			wantMissing: []string{`role="alert"`},
		},
		{
			name:         "root path with existing query parameters",
			target:       "/?next=%2Fapp",
			wantPostPath: "/?__do_login=true&amp;next=%2Fapp",
		},
		{
			name:         "resubmitting the form replaces the trigger",
			target:       "/login?__do_login=false",
			wantPostPath: "/login?__do_login=true",
		},
		{
			name:         "custom fields and title",
			config:       Config{LoginField: "user", PasswordField: "secret", TriggerParam: "submit", Title: "Example Corp"},
			target:       "/signin",
			wantPostPath: "/signin?submit=true",
			wantContains: []string{
				"<title>Example Corp</title>",
				"<h1>Log in to Example Corp</h1>",
				`name="user" id="user"`,
				`name="secret" id="secret"`,
			},
		},
		{
			name:         "with an alert",
			target:       "/login",
			alert:        "Incorrect username or password.",
			wantPostPath: "/login?__do_login=true",
			wantContains: []string{
				`<span class="alert" role="alert" aria-label="login error message">Incorrect username or password.</span>`,
			},
		},
		{
			name:         "alert is escaped",
			target:       "/login",
			alert:        "<script>alert(1)</script>",
			wantPostPath: "/login?__do_login=true",
			wantContains: []string{"&lt;script&gt;alert(1)&lt;/script&gt;"},
			wantMissing:  []string{"<script>"},
		},
	}
	for _, test := range tests {
		tt := test
		t.Run(tt.name, func(t *testing.T) {
			auditLogger, auditLog := plog.TestAuditLogger(t)
			config := tt.config
			config.Resolver = dnresolver.Passthrough{}
			config.AuditLogger = auditLogger
			f := newFormIdentifier(t, config)

			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if len(tt.alert) > 0 {
				f.ChallengeWithAlert(rec, r, tt.alert)
			} else {
				f.Challenge(rec, r)
			}

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			require.Equal(t, loginhtml.ContentSecurityPolicy(), rec.Header().Get("Content-Security-Policy"))
			require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			require.Equal(t, "no-cache,no-store,max-age=0,must-revalidate", rec.Header().Get("Cache-Control"))

			body := rec.Body.String()
			require.Contains(t, body, `<form action="`+tt.wantPostPath+`" method="post">`)
			for _, want := range tt.wantContains {
				require.Contains(t, body, want)
			}
			for _, missing := range tt.wantMissing {
				require.NotContains(t, body, missing)
			}

			require.Contains(t, auditLog.String(), `"message":"Login Challenge Issued"`)
			require.Contains(t, auditLog.String(), `"withAlert":`+map[bool]string{true: "true", false: "false"}[len(tt.alert) > 0])
		})
	}
}
