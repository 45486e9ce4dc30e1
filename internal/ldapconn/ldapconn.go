// Copyright 2021-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ldapconn abstracts live connections to an LDAP directory and how they are dialed.
package ldapconn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"go.pinniped.dev/ldapbind/internal/endpointaddr"
)

// DefaultDialTimeout is used by the production dialer when no dial timeout is configured.
const DefaultDialTimeout = 10 * time.Second

// Conn abstracts the upstream LDAP communication protocol (mostly for testing).
type Conn interface {
	Bind(username, password string) error

	UnauthenticatedBind(username string) error

	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)

	Close() error

	// IsClosing is true once the connection was closed by either side and can no longer be used.
	IsClosing() bool
}

// Our Conn type is subset of the ldap.Client interface, which is implemented by ldap.Conn.
var _ Conn = &ldap.Conn{}

// Do runs op and waits until it returns or ctx is done. go-ldap requests cannot be cancelled, so
// when ctx ends first op keeps running and the caller must close the connection to unblock it.
func Do(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	go func() {
		result <- op()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dialer is a factory of Conn, and the resulting Conn can then be used to interact with the directory.
type Dialer interface {
	Dial(ctx context.Context, url endpointaddr.DirectoryURL) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, url endpointaddr.DirectoryURL) (Conn, error)

var _ Dialer = DialerFunc(nil)

func (f DialerFunc) Dial(ctx context.Context, url endpointaddr.DirectoryURL) (Conn, error) {
	return f(ctx, url)
}

// NetDialer is the production Dialer. Both ldap:// and ldaps:// URLs are supported. For ldaps the
// host's certificate is verified against the system trust store.
type NetDialer struct {
	// DialTimeout bounds how long establishing the TCP (and TLS) connection may take.
	DialTimeout time.Duration

	// RequestTimeout, when positive, bounds every request sent on the resulting connection.
	RequestTimeout time.Duration
}

var _ Dialer = (*NetDialer)(nil)

// Dial connects to the directory. Unfortunately, the go-ldap library does not seem to support dialing
// with a context.Context, so we implement it ourselves, heavily inspired by ldap.DialURL.
func (d *NetDialer) Dial(ctx context.Context, url endpointaddr.DirectoryURL) (Conn, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	netDialer := &net.Dialer{Timeout: timeout}

	var c net.Conn
	var err error
	if url.TLS() {
		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config: &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: url.Host,
			},
		}
		c, err = tlsDialer.DialContext(ctx, "tcp", url.Endpoint())
	} else {
		c, err = netDialer.DialContext(ctx, "tcp", url.Endpoint())
	}
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	conn := ldap.NewConn(c, url.TLS())
	if d.RequestTimeout > 0 {
		conn.SetTimeout(d.RequestTimeout)
	}
	conn.Start()
	return conn, nil
}
