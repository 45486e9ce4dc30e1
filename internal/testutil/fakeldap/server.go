// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package fakeldap

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/jimlambrt/gldap"
	"github.com/stretchr/testify/require"

	"go.pinniped.dev/ldapbind/internal/endpointaddr"
)

// Serve starts a real LDAP server on localhost which answers binds and searches from the directory.
// The server is stopped when the test finishes.
func Serve(t *testing.T, d *Directory) endpointaddr.DirectoryURL {
	t.Helper()

	s, err := gldap.NewServer()
	require.NoError(t, err)

	mux, err := gldap.NewMux()
	require.NoError(t, err)
	require.NoError(t, mux.Bind(d.handleBind))
	require.NoError(t, mux.Search(d.handleSearch))
	require.NoError(t, s.Router(mux))

	port := freePort(t)
	go func() {
		_ = s.Run(fmt.Sprintf("127.0.0.1:%d", port))
	}()
	t.Cleanup(func() {
		_ = s.Stop()
	})

	require.Eventually(t, s.Ready, 10*time.Second, 10*time.Millisecond)

	return endpointaddr.DirectoryURL{
		Scheme:   endpointaddr.SchemeLDAP,
		HostPort: endpointaddr.HostPort{Host: "127.0.0.1", Port: port},
	}
}

func (d *Directory) handleBind(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewBindResponse(gldap.WithResponseCode(gldap.ResultInvalidCredentials))
	defer func() {
		_ = w.Write(resp)
	}()

	m, err := r.GetSimpleBindMessage()
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.binds++

	if len(m.UserName) == 0 && len(m.Password) == 0 {
		if d.AllowAnonymous {
			resp.SetResultCode(gldap.ResultSuccess)
		}
		return
	}
	if d.bind(m.UserName, string(m.Password)) == nil {
		resp.SetResultCode(gldap.ResultSuccess)
	}
}

func (d *Directory) handleSearch(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewSearchDoneResponse(gldap.WithResponseCode(gldap.ResultNoSuchObject))
	defer func() {
		_ = w.Write(resp)
	}()

	m, err := r.GetSearchMessage()
	if err != nil {
		return
	}

	d.mu.Lock()
	d.searches++
	result, err := d.search(&ldap.SearchRequest{
		BaseDN:     m.BaseDN,
		Scope:      int(m.Scope),
		Filter:     m.Filter,
		Attributes: m.Attributes,
		SizeLimit:  int(m.SizeLimit),
	})
	d.mu.Unlock()

	if result != nil {
		for _, e := range result.Entries {
			attrs := map[string][]string{}
			for _, a := range e.Attributes {
				attrs[a.Name] = a.Values
			}
			_ = w.Write(r.NewSearchResponseEntry(e.DN, gldap.WithAttributes(attrs)))
		}
	}

	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded):
		resp.SetResultCode(gldap.ResultSizeLimitExceeded)
	case err != nil:
		resp.SetResultCode(gldap.ResultOperationsError)
	default:
		resp.SetResultCode(gldap.ResultSuccess)
	}
}

func freePort(t *testing.T) uint16 {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, l.Close())
	}()
	return uint16(l.Addr().(*net.TCPAddr).Port) //nolint:gosec // ports fit in uint16
}
