// Copyright 2021-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ldap contains the capability interfaces and identity types shared by the LDAP
// authentication components.
package ldap

import (
	"context"
	"net/http"
)

// Credentials are the login and password presented by an end user. Both are required.
type Credentials struct {
	Login    string
	Password string
}

// Complete returns true when both fields are non-empty.
func (c *Credentials) Complete() bool {
	return c != nil && len(c.Login) > 0 && len(c.Password) > 0
}

// Identity is the result of a successful authentication. DN is exactly the DN which was used for the
// successful bind.
type Identity struct {
	DN string `json:"dn"`
}

// FormIdentity is what the form identifier extracts from a login form submission.
type FormIdentity struct {
	Login    string
	Password string
	DN       string

	// Identifier is the name of the identifier plugin which produced this identity.
	Identifier string
}

// Credentials returns the login and password portion of the identity.
func (f *FormIdentity) Credentials() *Credentials {
	return &Credentials{Login: f.Login, Password: f.Password}
}

// Authenticator verifies credentials against the directory. A nil or incomplete credential, and every
// ordinary failure, results in (nil, false).
type Authenticator interface {
	Authenticate(ctx context.Context, creds *Credentials) (*Identity, bool)
}

// IdentityAuthenticator verifies an identity produced by an Identifier, using the DN it already resolved.
type IdentityAuthenticator interface {
	AuthenticateIdentity(ctx context.Context, id *FormIdentity) (*Identity, bool)
}

// This interface is similar to Authenticator, but takes the login and password directly.
type UserAuthenticator interface {
	AuthenticateUser(ctx context.Context, login, password string) (*Identity, bool)
}

// Identifier extracts an identity from a request, when the request carries one.
type Identifier interface {
	Identify(r *http.Request) (*FormIdentity, bool)
}

// Challenger asks the end user to present credentials.
type Challenger interface {
	Challenge(w http.ResponseWriter, r *http.Request)
}
