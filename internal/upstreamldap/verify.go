// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"

	"go.pinniped.dev/ldapbind/internal/connpool"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
	"go.pinniped.dev/ldapbind/internal/metrics"
	"go.pinniped.dev/ldapbind/internal/plog"
)

// Verifier proves a DN and password by binding as them on a pooled connection.
type Verifier struct {
	pool        *connpool.Pool
	bindTimeout time.Duration
	metrics     metrics.Recorder
	log         plog.Logger
}

// NewVerifier returns a Verifier. A zero bindTimeout means DefaultBindTimeout, and m and log may be nil.
func NewVerifier(pool *connpool.Pool, bindTimeout time.Duration, m metrics.Recorder, log plog.Logger) *Verifier {
	if bindTimeout <= 0 {
		bindTimeout = DefaultBindTimeout
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = plog.New()
	}
	return &Verifier{pool: pool, bindTimeout: bindTimeout, metrics: m, log: log}
}

// Verify returns the DN when the bind succeeds. The connection is bound as the service identity again
// before it goes back to the pool, or is discarded when that is not possible.
func (v *Verifier) Verify(ctx context.Context, dn, password string) (string, bool) {
	boundDN, _, err := v.verify(ctx, dn, password)
	return boundDN, err == nil
}

func (v *Verifier) verify(ctx context.Context, dn, password string) (string, string, error) {
	if len(dn) == 0 || len(password) == 0 {
		return "", metrics.CauseInvalidCredentials, errors.New("empty DN or password")
	}

	// The timeout covers the checkout, the end user bind and restoring the service identity.
	ctx, cancel := context.WithTimeout(ctx, v.bindTimeout)
	defer cancel()

	lease, err := v.pool.Checkout(ctx)
	if err != nil {
		cause, err := v.fail(metrics.CauseUnavailable, err, dn)
		return "", cause, err
	}

	err = ldapconn.Do(ctx, func() error {
		return lease.Conn().Bind(dn, password)
	})
	if timedOut(ctx, err) {
		// The bind may still be in flight, so the connection's state is unknown. Closing it also
		// unblocks the pending bind.
		lease.Discard()
		v.log.Debug("discarded directory connection after bind timed out", "dn", dn)
		cause, err := v.fail(metrics.CauseUnavailable, err, dn)
		return "", cause, err
	}

	restoreErr := lease.Restore(ctx)
	switch {
	case restoreErr == nil:
		lease.Release()
	case timedOut(ctx, restoreErr):
		lease.Discard()
		v.log.Debug("discarded directory connection after restoring the service identity timed out", "dn", dn)
		cause, err := v.fail(metrics.CauseUnavailable, restoreErr, dn)
		return "", cause, err
	default:
		v.log.WarningErr("could not restore service identity, discarding directory connection", restoreErr)
		lease.Discard()
	}

	if err != nil {
		cause, err := v.fail(classify(err), err, dn)
		return "", cause, err
	}
	return dn, "", nil
}

func timedOut(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (v *Verifier) fail(cause string, err error, dn string) (string, error) {
	v.metrics.RecordBindFailure(cause)
	switch cause {
	case metrics.CauseInvalidCredentials:
		v.log.DebugErr("bind rejected", err, "dn", dn)
	default:
		v.log.WarningErr("bind failed", err, "cause", cause)
	}
	return cause, err
}

// classify maps a failure to a metrics cause. The cause is only used for logs and metrics.
func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, connpool.ErrPoolClosed) {
		return metrics.CauseUnavailable
	}

	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		return metrics.CauseError
	}
	switch ldapErr.ResultCode {
	case ldap.LDAPResultInvalidCredentials, ldap.LDAPResultInvalidDNSyntax, ldap.LDAPResultNoSuchObject, ldap.ErrorEmptyPassword:
		return metrics.CauseInvalidCredentials
	case ldap.ErrorNetwork,
		ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultOther:
		return metrics.CauseUnavailable
	default:
		return metrics.CauseError
	}
}
