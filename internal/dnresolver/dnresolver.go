// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package dnresolver maps an end user's login to the distinguished name which should be bound as.
package dnresolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"go.pinniped.dev/ldapbind/internal/connpool"
	"go.pinniped.dev/ldapbind/internal/constable"
	ldapapi "go.pinniped.dev/ldapbind/internal/ldap"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
	"go.pinniped.dev/ldapbind/internal/plog"
)

const (
	// ErrMissingField means the credentials did not carry what the strategy needs. It is a soft
	// failure: authentication was not attempted.
	ErrMissingField = constable.Error("missing field")

	// ErrUserNotFound means a search found no entry for the login.
	ErrUserNotFound = constable.Error("user not found")

	DefaultAttribute    = "uid"
	DefaultSearchFilter = "(uid={})"

	// StrategyTemplate, StrategyPassthrough and StrategySearch are the strategy names accepted in
	// configuration.
	StrategyTemplate    = "template"
	StrategyPassthrough = "passthrough"
	StrategySearch      = "search"

	searchFilterInterpolationLocationMarker = "{}"

	// noAttributes asks the server to return only the DN of each entry (RFC 4511 section 4.5.1.8).
	noAttributes = "1.1"
)

// Resolver maps credentials to the DN which should be bound as.
type Resolver interface {
	ResolveDN(ctx context.Context, creds *ldapapi.Credentials) (string, error)
}

// Func makes it easy to use a func as a Resolver.
type Func func(ctx context.Context, creds *ldapapi.Credentials) (string, error)

var _ Resolver = Func(nil)

func (f Func) ResolveDN(ctx context.Context, creds *ldapapi.Credentials) (string, error) {
	return f(ctx, creds)
}

func loginFrom(creds *ldapapi.Credentials) (string, error) {
	if creds == nil || len(creds.Login) == 0 {
		return "", ErrMissingField
	}
	return creds.Login, nil
}

// Template builds "<Attribute>=<escaped login>[,<Path>],<BaseDN>".
type Template struct {
	// Attribute is the RDN attribute type. Defaults to DefaultAttribute.
	Attribute string

	// Path is optionally placed between the RDN and BaseDN, e.g. "ou=admins".
	Path string

	BaseDN string
}

var _ Resolver = (*Template)(nil)

func (t *Template) ResolveDN(_ context.Context, creds *ldapapi.Credentials) (string, error) {
	login, err := loginFrom(creds)
	if err != nil {
		return "", err
	}
	if len(t.BaseDN) == 0 {
		return "", fmt.Errorf("%w: base DN", ErrMissingField)
	}

	attribute := t.Attribute
	if len(attribute) == 0 {
		attribute = DefaultAttribute
	}

	parts := []string{attribute + "=" + ldap.EscapeDN(login)}
	if len(t.Path) > 0 {
		parts = append(parts, t.Path)
	}
	parts = append(parts, t.BaseDN)
	return strings.Join(parts, ","), nil
}

// Passthrough uses the login as the DN. The login must be a syntactically valid DN.
type Passthrough struct{}

var _ Resolver = Passthrough{}

func (Passthrough) ResolveDN(_ context.Context, creds *ldapapi.Credentials) (string, error) {
	login, err := loginFrom(creds)
	if err != nil {
		return "", err
	}
	dn, err := ldap.ParseDN(login)
	if err != nil || len(dn.RDNs) == 0 {
		return "", fmt.Errorf("%w: login is not a distinguished name", ErrMissingField)
	}
	return login, nil
}

// Search locates the entry for the login with a search made as the service identity. Exactly one
// entry must match.
type Search struct {
	Pool *connpool.Pool

	BaseDN string

	// Filter may contain "{}", which is replaced by the escaped login. A filter without "{}" is
	// treated as an attribute name. Defaults to DefaultSearchFilter.
	Filter string

	// Timeout, when positive, bounds the checkout and the search on top of the caller's context. A
	// connection whose search timed out is discarded.
	Timeout time.Duration

	Logger plog.Logger
}

var _ Resolver = (*Search)(nil)

func (s *Search) ResolveDN(ctx context.Context, creds *ldapapi.Credentials) (string, error) {
	login, err := loginFrom(creds)
	if err != nil {
		return "", err
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	lease, err := s.Pool.Checkout(ctx)
	if err != nil {
		return "", err
	}
	var result *ldap.SearchResult
	err = ldapconn.Do(ctx, func() error {
		var searchErr error
		result, searchErr = lease.Conn().Search(s.searchRequest(login))
		return searchErr
	})
	// Searching never changes the bound identity, so the connection can go straight back unless it broke
	// or the search is still in flight.
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		lease.Discard()
	} else {
		lease.Release()
	}
	if err != nil && !(ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil) {
		return "", fmt.Errorf(`error searching for user %q: %w`, login, err)
	}
	if len(result.Entries) == 0 {
		s.logger().Debug("error finding user: user not found (if this login is valid, please check the search configuration)",
			"login", login)
		return "", ErrUserNotFound
	}
	if len(result.Entries) > 1 {
		return "", fmt.Errorf(`searching for user %q resulted in %d search results, but expected 1 result`,
			login, len(result.Entries))
	}

	userEntry := result.Entries[0]
	if len(userEntry.DN) == 0 {
		return "", fmt.Errorf(`searching for user %q resulted in search result without DN`, login)
	}
	return userEntry.DN, nil
}

func (s *Search) logger() plog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return plog.New()
}

func (s *Search) searchRequest(login string) *ldap.SearchRequest {
	// See https://ldap.com/the-ldap-search-operation for general documentation of LDAP search options.
	return &ldap.SearchRequest{
		BaseDN:       s.BaseDN,
		Scope:        ldap.ScopeWholeSubtree,
		DerefAliases: ldap.NeverDerefAliases,
		SizeLimit:    2,
		TimeLimit:    90,
		TypesOnly:    false,
		Filter:       s.filter(login),
		Attributes:   []string{noAttributes},
		Controls:     nil, // this could be used to enable paging, but we're already limiting the result max size
	}
}

func (s *Search) filter(login string) string {
	// The login is end-user input, so it must be escaped before being included in a search to prevent query injection.
	safeLogin := ldap.EscapeFilter(login)

	filter := s.Filter
	if len(filter) == 0 {
		filter = DefaultSearchFilter
	}
	if !strings.Contains(filter, searchFilterInterpolationLocationMarker) {
		return fmt.Sprintf("(%s=%s)", strings.Trim(filter, "()"), safeLogin)
	}
	filter = strings.ReplaceAll(filter, searchFilterInterpolationLocationMarker, safeLogin)
	if strings.HasPrefix(filter, "(") && strings.HasSuffix(filter, ")") {
		return filter
	}
	return "(" + filter + ")"
}
