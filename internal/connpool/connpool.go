// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package connpool provides a bounded pool of directory connections which are bound as the service
// identity whenever they are idle.
package connpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"go.pinniped.dev/ldapbind/internal/constable"
	"go.pinniped.dev/ldapbind/internal/endpointaddr"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
	"go.pinniped.dev/ldapbind/internal/plog"
)

const (
	// DefaultSize is the number of connections which may be checked out at the same time.
	DefaultSize = 4

	ErrPoolClosed = constable.Error("connection pool is closed")
)

// Observer is told about connection lifecycle events. It may be nil.
type Observer interface {
	ConnectionDialed()
	ConnectionDiscarded()
	CheckoutsInFlight(n int)
}

// Config configures a Pool.
type Config struct {
	// URL is the directory to dial.
	URL endpointaddr.DirectoryURL

	// Dialer creates new connections. Defaults to a ldapconn.NetDialer.
	Dialer ldapconn.Dialer

	// BindDN and BindPassword are the service identity. When BindDN is empty, the service identity is
	// anonymous.
	BindDN       string
	BindPassword string

	// Size bounds the number of connections checked out at once. Defaults to DefaultSize.
	Size int

	Observer Observer
	Logger   plog.Logger
}

// Pool hands out exclusive leases on directory connections.
type Pool struct {
	url          endpointaddr.DirectoryURL
	dialer       ldapconn.Dialer
	bindDN       string
	bindPassword string
	size         int
	observer     Observer
	log          plog.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	idle     []ldapconn.Conn
	inFlight int
	closed   bool
}

// New returns a pool. No connection is dialed until the first Checkout.
func New(c Config) *Pool {
	size := c.Size
	if size <= 0 {
		size = DefaultSize
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = &ldapconn.NetDialer{}
	}
	log := c.Logger
	if log == nil {
		log = plog.New()
	}
	return &Pool{
		url:          c.URL,
		dialer:       dialer,
		bindDN:       c.BindDN,
		bindPassword: c.BindPassword,
		size:         size,
		observer:     c.Observer,
		log:          log.WithName("connpool").WithValues("url", c.URL.String()),
		sem:          semaphore.NewWeighted(int64(size)),
	}
}

// Size is the maximum number of connections which may be checked out at once.
func (p *Pool) Size() int {
	return p.size
}

// URL is the directory this pool dials.
func (p *Pool) URL() endpointaddr.DirectoryURL {
	return p.url
}

// Checkout blocks until a connection is available or ctx is done. The returned lease must be
// finished with exactly one call to Release or Discard; extra calls are ignored.
func (p *Pool) Checkout(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a directory connection: %w", err)
	}

	conn, err := p.takeIdleOrDial(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.trackInFlight(1)
	return &Lease{pool: p, conn: conn}, nil
}

func (p *Pool) takeIdleOrDial(ctx context.Context) (ldapconn.Conn, error) {
	if conn, err := p.takeIdle(); conn != nil || err != nil {
		return conn, err
	}

	conn, err := p.dialer.Dial(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("error dialing directory %q: %w", p.url.String(), err)
	}
	if p.observer != nil {
		p.observer.ConnectionDialed()
	}
	p.log.Debug("dialed new directory connection")

	if err := p.bindService(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error binding as service identity %q: %w", p.bindDN, err)
	}
	return conn, nil
}

// takeIdle pops the most recently released idle connection. Connections which the directory has
// already closed are discarded on the way.
func (p *Pool) takeIdle() (ldapconn.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var stale []ldapconn.Conn
	var conn ldapconn.Conn
	for n := len(p.idle); n > 0 && conn == nil; n = len(p.idle) {
		candidate := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if candidate.IsClosing() {
			stale = append(stale, candidate)
			continue
		}
		conn = candidate
	}
	p.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
		if p.observer != nil {
			p.observer.ConnectionDiscarded()
		}
	}
	if len(stale) > 0 {
		p.log.Debug("discarded idle directory connections which were closed by the directory", "count", len(stale))
	}
	return conn, nil
}

func (p *Pool) bindService(ctx context.Context, conn ldapconn.Conn) error {
	return ldapconn.Do(ctx, func() error {
		if len(p.bindDN) == 0 {
			return conn.UnauthenticatedBind("")
		}
		return conn.Bind(p.bindDN, p.bindPassword)
	})
}

// Close closes every idle connection. Leases which are still checked out close their connection when
// they finish, and every later Checkout fails with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, conn := range idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("error closing %d idle connection(s): %w", len(errs), errs[0])
	}
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// IdleCount is the number of connections waiting in the pool.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) trackInFlight(delta int) {
	p.mu.Lock()
	p.inFlight += delta
	n := p.inFlight
	p.mu.Unlock()
	if p.observer != nil {
		p.observer.CheckoutsInFlight(n)
	}
}

func (p *Pool) finish(conn ldapconn.Conn, keep bool) {
	p.mu.Lock()
	if keep && !p.closed {
		p.idle = append(p.idle, conn)
		conn = nil
	}
	p.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			p.log.DebugErr("error closing directory connection", err)
		}
		if !keep && p.observer != nil {
			p.observer.ConnectionDiscarded()
		}
	}

	p.trackInFlight(-1)
	p.sem.Release(1)
}

// Lease is exclusive use of one pooled connection.
type Lease struct {
	pool *Pool
	conn ldapconn.Conn

	once sync.Once
}

// Conn is the leased connection. It must not be used after the lease is finished.
func (l *Lease) Conn() ldapconn.Conn {
	return l.conn
}

// Restore binds the connection as the service identity again. When ctx ends first, the connection is
// in an unknown state and the lease must be discarded.
func (l *Lease) Restore(ctx context.Context) error {
	return l.pool.bindService(ctx, l.conn)
}

// Release returns the connection to the pool. The connection must be bound as the service identity.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.finish(l.conn, true)
	})
}

// Discard closes the connection instead of returning it to the pool.
func (l *Lease) Discard() {
	l.once.Do(func() {
		l.pool.finish(l.conn, false)
	})
}
