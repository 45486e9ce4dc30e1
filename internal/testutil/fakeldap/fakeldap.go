// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fakeldap is an in-memory LDAP directory for tests. It counts every call made to it and
// remembers the identity each connection is currently bound as.
package fakeldap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"go.pinniped.dev/ldapbind/internal/endpointaddr"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
)

// Entry is one object in the directory. An entry with an empty Password cannot be bound as.
type Entry struct {
	DN         string
	Password   string
	Attributes map[string][]string
}

// Directory holds entries and the connections made to it.
type Directory struct {
	// AllowAnonymous permits unauthenticated binds.
	AllowAnonymous bool

	// BindHook, when set, runs before every simple bind. A non-nil error is returned from the bind
	// and the connection keeps its previous bound identity.
	BindHook func(dn, password string) error

	// DialErr, when set, is returned from every dial.
	DialErr error

	mu       sync.Mutex
	entries  []*Entry
	conns    []*Conn
	dials    int
	binds    int
	anonBind int
	searches int
}

func New(entries ...*Entry) *Directory {
	return &Directory{AllowAnonymous: true, entries: entries}
}

// Add adds entries to the directory.
func (d *Directory) Add(entries ...*Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entries...)
}

// Dialer returns a Dialer whose connections are served by this directory.
func (d *Directory) Dialer() ldapconn.Dialer {
	return ldapconn.DialerFunc(func(ctx context.Context, _ endpointaddr.DirectoryURL) (ldapconn.Conn, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.dials++
		if d.DialErr != nil {
			return nil, d.DialErr
		}
		if err := ctx.Err(); err != nil {
			return nil, ldap.NewError(ldap.ErrorNetwork, err)
		}
		c := &Conn{dir: d}
		d.conns = append(d.conns, c)
		return c, nil
	})
}

// NewConn returns a connection to this directory without counting it as a dial.
func (d *Directory) NewConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Conn{dir: d}
	d.conns = append(d.conns, c)
	return c
}

// Calls is the total number of dials, binds and searches which reached the directory.
func (d *Directory) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials + d.binds + d.anonBind + d.searches
}

func (d *Directory) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Directory) Binds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.binds
}

func (d *Directory) Searches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searches
}

// Conns returns every connection made so far, in order.
func (d *Directory) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// OpenConns returns the connections which have not been closed.
func (d *Directory) OpenConns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var open []*Conn
	for _, c := range d.conns {
		if !c.closed {
			open = append(open, c)
		}
	}
	return open
}

// bind checks a simple bind against the entries. The caller holds d.mu.
func (d *Directory) bind(dn, password string) error {
	if len(password) == 0 {
		return ldap.NewError(ldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	for _, e := range d.entries {
		entryDN, err := ldap.ParseDN(e.DN)
		if err != nil {
			continue
		}
		if entryDN.EqualFold(parsed) && len(e.Password) > 0 && e.Password == password {
			return nil
		}
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

// search evaluates a search request. The caller holds d.mu.
func (d *Directory) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	base, err := ldap.ParseDN(req.BaseDN)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
	}
	f, rest, err := parseFilter(req.Filter)
	if err != nil || len(rest) > 0 {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, fmt.Errorf("invalid filter %q", req.Filter))
	}

	result := &ldap.SearchResult{}
	for _, e := range d.entries {
		entryDN, err := ldap.ParseDN(e.DN)
		if err != nil {
			continue
		}
		inScope := false
		switch req.Scope {
		case ldap.ScopeBaseObject:
			inScope = base.EqualFold(entryDN)
		case ldap.ScopeSingleLevel:
			inScope = base.AncestorOfFold(entryDN) && len(entryDN.RDNs) == len(base.RDNs)+1
		default:
			inScope = base.EqualFold(entryDN) || base.AncestorOfFold(entryDN)
		}
		if !inScope || !f.matches(e) {
			continue
		}
		if req.SizeLimit > 0 && len(result.Entries) == req.SizeLimit {
			return result, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
		}
		result.Entries = append(result.Entries, toLDAPEntry(e, req.Attributes))
	}
	return result, nil
}

func toLDAPEntry(e *Entry, requested []string) *ldap.Entry {
	attrs := map[string][]string{}
	for name, values := range e.Attributes {
		if len(requested) == 0 {
			attrs[name] = values
			continue
		}
		for _, r := range requested {
			if strings.EqualFold(r, name) {
				attrs[name] = values
			}
		}
	}
	return ldap.NewEntry(e.DN, attrs)
}

// Conn is a connection to a Directory. It implements ldapconn.Conn.
type Conn struct {
	dir *Directory

	// guarded by dir.mu
	boundDN    string
	closed     bool
	dropped    bool
	searchedAs []string
}

var _ ldapconn.Conn = (*Conn)(nil)

func (c *Conn) Bind(username, password string) error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.binds++

	if c.closed || c.dropped {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}

	hook := c.dir.BindHook
	if hook != nil {
		// The hook may block, so it runs without the lock.
		c.dir.mu.Unlock()
		err := hook(username, password)
		c.dir.mu.Lock()
		if err != nil {
			return err
		}
		if c.closed || c.dropped {
			return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
		}
	}

	if err := c.dir.bind(username, password); err != nil {
		// A failed bind leaves the connection in the anonymous state.
		c.boundDN = ""
		return err
	}
	c.boundDN = username
	return nil
}

func (c *Conn) UnauthenticatedBind(username string) error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.anonBind++

	if c.closed || c.dropped {
		return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	if !c.dir.AllowAnonymous {
		return ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("anonymous bind disallowed"))
	}
	c.boundDN = ""
	return nil
}

func (c *Conn) Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.searches++

	if c.closed || c.dropped {
		return nil, ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
	}
	c.searchedAs = append(c.searchedAs, c.boundDN)
	return c.dir.search(searchRequest)
}

func (c *Conn) Close() error {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosing is true after Close or Drop.
func (c *Conn) IsClosing() bool {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	return c.closed || c.dropped
}

// Drop simulates the directory closing the connection. Every later request on it fails with a
// network error, but Closed stays false until the client calls Close.
func (c *Conn) Drop() {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dropped = true
}

// BoundDN is the DN this connection is currently bound as. An empty string means anonymous.
func (c *Conn) BoundDN() string {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	return c.boundDN
}

func (c *Conn) Closed() bool {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	return c.closed
}

// SearchedAs returns the bound DN at the time of each search made on this connection.
func (c *Conn) SearchedAs() []string {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	return append([]string(nil), c.searchedAs...)
}

// filter is the small subset of RFC 4515 understood by the fake: and, or, not, equality and presence.
type filter struct {
	op       byte // '&', '|', '!', '=' or '*'
	attr     string
	value    string
	children []*filter
}

func (f *filter) matches(e *Entry) bool {
	switch f.op {
	case '&':
		for _, c := range f.children {
			if !c.matches(e) {
				return false
			}
		}
		return true
	case '|':
		for _, c := range f.children {
			if c.matches(e) {
				return true
			}
		}
		return false
	case '!':
		return !f.children[0].matches(e)
	case '*':
		if strings.EqualFold(f.attr, "objectClass") {
			return true
		}
		return len(attributeValues(e, f.attr)) > 0
	default:
		for _, v := range attributeValues(e, f.attr) {
			if strings.EqualFold(v, f.value) {
				return true
			}
		}
		return false
	}
}

func attributeValues(e *Entry, attr string) []string {
	for name, values := range e.Attributes {
		if strings.EqualFold(name, attr) {
			return values
		}
	}
	return nil
}

func parseFilter(s string) (*filter, string, error) {
	if len(s) < 2 || s[0] != '(' {
		return nil, "", fmt.Errorf("expected '(' in %q", s)
	}
	s = s[1:]
	switch s[0] {
	case '&', '|', '!':
		f := &filter{op: s[0]}
		s = s[1:]
		for len(s) > 0 && s[0] == '(' {
			child, rest, err := parseFilter(s)
			if err != nil {
				return nil, "", err
			}
			f.children = append(f.children, child)
			s = rest
		}
		if len(s) == 0 || s[0] != ')' || len(f.children) == 0 || (f.op == '!' && len(f.children) != 1) {
			return nil, "", fmt.Errorf("malformed %q filter", f.op)
		}
		return f, s[1:], nil
	default:
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated filter")
		}
		attr, value, ok := strings.Cut(s[:end], "=")
		if !ok || len(attr) == 0 {
			return nil, "", fmt.Errorf("malformed item %q", s[:end])
		}
		if value == "*" {
			return &filter{op: '*', attr: attr}, s[end+1:], nil
		}
		unescaped, err := unescapeFilterValue(value)
		if err != nil {
			return nil, "", err
		}
		return &filter{op: '=', attr: attr, value: unescaped}, s[end+1:], nil
	}
}

// unescapeFilterValue reverses ldap.EscapeFilter.
func unescapeFilterValue(v string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		if i+2 >= len(v) {
			return "", fmt.Errorf("truncated escape in %q", v)
		}
		decoded, err := hex.DecodeString(v[i+1 : i+3])
		if err != nil {
			return "", err
		}
		b.Write(decoded)
		i += 2
	}
	return b.String(), nil
}
