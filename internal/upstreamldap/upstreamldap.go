// Copyright 2021-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamldap authenticates end users by binding to an LDAP directory as them.
package upstreamldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"go.pinniped.dev/ldapbind/internal/connpool"
	"go.pinniped.dev/ldapbind/internal/dnresolver"
	"go.pinniped.dev/ldapbind/internal/endpointaddr"
	ldapapi "go.pinniped.dev/ldapbind/internal/ldap"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
	"go.pinniped.dev/ldapbind/internal/metrics"
	"go.pinniped.dev/ldapbind/internal/plog"
)

// DefaultBindTimeout bounds each end user bind when ProviderConfig.BindTimeout is not set.
const DefaultBindTimeout = 30 * time.Second

// ProviderConfig includes all of the settings for connecting to the directory and for resolving logins
// to DNs.
type ProviderConfig struct {
	// Name is used in logs.
	Name string

	// Pool is a live connection pool. When nil, a pool is created for URL.
	Pool *connpool.Pool

	// URL is "ldap://host[:port]" or "ldaps://host[:port]". It is only dialed on first use.
	URL string

	// Dialer exists to enable testing. When nil, will use a default appropriate for production use.
	Dialer ldapconn.Dialer

	// BindDN and BindPassword are the service identity which idle connections are bound as. An empty
	// BindDN means anonymous. Ignored when Pool is set.
	BindDN       string
	BindPassword string

	// PoolSize defaults to connpool.DefaultSize. Ignored when Pool is set.
	PoolSize int

	// DialTimeout is used by the default dialer. Ignored when Pool or Dialer is set.
	DialTimeout time.Duration

	// BindTimeout bounds each end user bind, on top of the caller's context. Defaults to DefaultBindTimeout.
	BindTimeout time.Duration

	// BaseDN is required by the template and search strategies.
	BaseDN string

	// DNResolution selects and configures the built-in resolution strategy.
	DNResolution DNResolutionConfig

	// Resolver, when set, replaces the built-in strategy.
	Resolver dnresolver.Resolver

	Metrics     metrics.Recorder
	Logger      plog.Logger
	AuditLogger plog.AuditLogger
	Clock       clock.PassiveClock
}

// DNResolutionConfig selects one of dnresolver's strategies.
type DNResolutionConfig struct {
	// Strategy is one of "template" (the default), "passthrough" or "search".
	Strategy string

	// Attribute and Path configure the template strategy.
	Attribute string
	Path      string

	// SearchFilter configures the search strategy.
	SearchFilter string
}

// ConfigurationError lists every problem found while constructing a Provider.
type ConfigurationError struct {
	errs utilerrors.Aggregate
}

func (e *ConfigurationError) Error() string {
	return "invalid LDAP provider configuration: " + e.errs.Error()
}

func (e *ConfigurationError) Unwrap() []error {
	return e.errs.Errors()
}

// Provider implements ldap.Authenticator by resolving the login to a DN and then binding as that DN.
type Provider struct {
	name     string
	pool     *connpool.Pool
	ownsPool bool
	resolver dnresolver.Resolver
	verifier *Verifier
	metrics  metrics.Recorder
	log      plog.Logger
	audit    plog.AuditLogger
	clock    clock.PassiveClock
}

var (
	_ ldapapi.Authenticator         = (*Provider)(nil)
	_ ldapapi.IdentityAuthenticator = (*Provider)(nil)
	_ ldapapi.UserAuthenticator     = (*Provider)(nil)
)

// New validates the configuration. Nothing is dialed until the first authentication.
func New(c ProviderConfig) (*Provider, error) {
	var errs []error

	var url endpointaddr.DirectoryURL
	switch {
	case c.Pool != nil:
	case len(c.URL) == 0:
		errs = append(errs, fmt.Errorf("a directory connection is required: set either a connection pool or a URL"))
	default:
		var err error
		if url, err = endpointaddr.ParseDirectoryURL(c.URL); err != nil {
			errs = append(errs, err)
		}
	}

	if c.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("pool size must not be negative, got %d", c.PoolSize))
	}
	if c.BindTimeout < 0 {
		errs = append(errs, fmt.Errorf("bind timeout must not be negative, got %s", c.BindTimeout))
	}
	if len(c.BindPassword) > 0 && len(c.BindDN) == 0 {
		errs = append(errs, fmt.Errorf("a bind password was given without a bind DN"))
	}

	if len(c.BaseDN) > 0 {
		if _, err := ldap.ParseDN(c.BaseDN); err != nil {
			errs = append(errs, fmt.Errorf("invalid base DN %q: %w", c.BaseDN, err))
		}
	}

	m := c.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	log := c.Logger
	if log == nil {
		log = plog.New()
	}
	log = log.WithName("upstreamldap")
	if len(c.Name) > 0 {
		log = log.WithValues("upstreamName", c.Name)
	}

	bindTimeout := c.BindTimeout
	if bindTimeout == 0 {
		bindTimeout = DefaultBindTimeout
	}

	pool := c.Pool
	ownsPool := false
	if pool == nil {
		dialer := c.Dialer
		if dialer == nil {
			dialer = &ldapconn.NetDialer{DialTimeout: c.DialTimeout, RequestTimeout: bindTimeout}
		}
		pool = connpool.New(connpool.Config{
			URL:          url,
			Dialer:       dialer,
			BindDN:       c.BindDN,
			BindPassword: c.BindPassword,
			Size:         c.PoolSize,
			Observer:     m,
			Logger:       log,
		})
		ownsPool = true
	}

	resolver := c.Resolver
	if resolver == nil {
		var err error
		if resolver, err = builtInResolver(c, pool, bindTimeout, log); err != nil {
			errs = append(errs, err)
		}
	}

	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, &ConfigurationError{errs: err}
	}

	audit := c.AuditLogger
	if audit == nil {
		audit = plog.NewAuditLogger(plog.AuditLogConfig{})
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Provider{
		name:     c.Name,
		pool:     pool,
		ownsPool: ownsPool,
		resolver: resolver,
		verifier: NewVerifier(pool, bindTimeout, m, log),
		metrics:  m,
		log:      log,
		audit:    audit,
		clock:    clk,
	}, nil
}

func builtInResolver(c ProviderConfig, pool *connpool.Pool, timeout time.Duration, log plog.Logger) (dnresolver.Resolver, error) {
	strategy := c.DNResolution.Strategy
	if len(strategy) == 0 {
		strategy = dnresolver.StrategyTemplate
	}

	switch strategy {
	case dnresolver.StrategyTemplate:
		if len(c.BaseDN) == 0 {
			return nil, fmt.Errorf("a base DN is required for the %q DN resolution strategy", strategy)
		}
		if len(c.DNResolution.Path) > 0 {
			if _, err := ldap.ParseDN(c.DNResolution.Path); err != nil {
				return nil, fmt.Errorf("invalid DN resolution path %q: %w", c.DNResolution.Path, err)
			}
		}
		return &dnresolver.Template{
			Attribute: c.DNResolution.Attribute,
			Path:      c.DNResolution.Path,
			BaseDN:    c.BaseDN,
		}, nil
	case dnresolver.StrategyPassthrough:
		return dnresolver.Passthrough{}, nil
	case dnresolver.StrategySearch:
		if len(c.BaseDN) == 0 {
			return nil, fmt.Errorf("a base DN is required for the %q DN resolution strategy", strategy)
		}
		return &dnresolver.Search{
			Pool:    pool,
			BaseDN:  c.BaseDN,
			Filter:  c.DNResolution.SearchFilter,
			Timeout: timeout,
			Logger:  log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown DN resolution strategy %q: must be one of %q, %q or %q",
			strategy, dnresolver.StrategyTemplate, dnresolver.StrategyPassthrough, dnresolver.StrategySearch)
	}
}

// Name of this provider, for logs.
func (p *Provider) Name() string {
	return p.name
}

// Resolver is the active DN resolution strategy.
func (p *Provider) Resolver() dnresolver.Resolver {
	return p.resolver
}

// Close closes the connection pool, unless it was supplied by the caller.
func (p *Provider) Close() error {
	if !p.ownsPool {
		return nil
	}
	return p.pool.Close()
}

// TestConnection checks that a connection can be dialed and bound as the service identity.
func (p *Provider) TestConnection(ctx context.Context) error {
	lease, err := p.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// AuthenticateUser is Authenticate for a login and password.
func (p *Provider) AuthenticateUser(ctx context.Context, login, password string) (*ldapapi.Identity, bool) {
	return p.Authenticate(ctx, &ldapapi.Credentials{Login: login, Password: password})
}

// Authenticate resolves the DN for the credentials and binds as it. Incomplete credentials never
// reach the directory. Every failure results in (nil, false), whatever the cause.
func (p *Provider) Authenticate(ctx context.Context, creds *ldapapi.Credentials) (*ldapapi.Identity, bool) {
	start := p.clock.Now()

	if !creds.Complete() {
		p.notAttempted(ctx, start, "incomplete credentials")
		return nil, false
	}

	dn, err := p.resolver.ResolveDN(ctx, creds)
	if err != nil {
		switch {
		case errors.Is(err, dnresolver.ErrMissingField):
			p.log.DebugErr("could not resolve DN", err)
			p.notAttempted(ctx, start, "could not resolve DN")
		case errors.Is(err, dnresolver.ErrUserNotFound):
			p.rejected(ctx, start, creds.Login, "", metrics.CauseInvalidCredentials)
		default:
			cause := classify(err)
			if cause == metrics.CauseUnavailable {
				p.unavailable(ctx, err)
			} else {
				p.log.WarningErr("error resolving DN", err)
			}
			p.rejected(ctx, start, creds.Login, "", cause)
		}
		return nil, false
	}

	return p.bindAs(ctx, start, creds, dn)
}

// AuthenticateIdentity binds as the DN which an Identifier already resolved for a submitted form.
// An identity without a DN is resolved like Authenticate does.
func (p *Provider) AuthenticateIdentity(ctx context.Context, id *ldapapi.FormIdentity) (*ldapapi.Identity, bool) {
	if id == nil || len(id.DN) == 0 {
		var creds *ldapapi.Credentials
		if id != nil {
			creds = id.Credentials()
		}
		return p.Authenticate(ctx, creds)
	}

	start := p.clock.Now()
	creds := id.Credentials()
	if !creds.Complete() {
		p.notAttempted(ctx, start, "incomplete credentials")
		return nil, false
	}
	return p.bindAs(ctx, start, creds, id.DN)
}

func (p *Provider) bindAs(ctx context.Context, start time.Time, creds *ldapapi.Credentials, dn string) (*ldapapi.Identity, bool) {
	boundDN, cause, err := p.verifier.verify(ctx, dn, creds.Password)
	if err != nil {
		if cause == metrics.CauseUnavailable {
			p.unavailable(ctx, err)
		}
		p.rejected(ctx, start, creds.Login, dn, cause)
		return nil, false
	}

	p.metrics.RecordAuthentication(metrics.OutcomeSucceeded, p.clock.Since(start))
	p.audit.Audit(plog.AuditEventAuthenticationSucceeded, &plog.AuditParams{
		ReqCtx:           ctx,
		PIIKeysAndValues: []any{"login", creds.Login, "dn", boundDN},
	})
	return &ldapapi.Identity{DN: boundDN}, true
}

func (p *Provider) notAttempted(ctx context.Context, start time.Time, reason string) {
	p.metrics.RecordAuthentication(metrics.OutcomeNotAttempted, p.clock.Since(start))
	p.audit.Audit(plog.AuditEventAuthenticationNotAttempted, &plog.AuditParams{
		ReqCtx:        ctx,
		KeysAndValues: []any{"reason", reason},
	})
}

func (p *Provider) rejected(ctx context.Context, start time.Time, login, dn, cause string) {
	p.metrics.RecordAuthentication(metrics.OutcomeRejected, p.clock.Since(start))
	pii := []any{"login", login}
	if len(dn) > 0 {
		pii = append(pii, "dn", dn)
	}
	p.audit.Audit(plog.AuditEventAuthenticationRejected, &plog.AuditParams{
		ReqCtx:           ctx,
		PIIKeysAndValues: pii,
		KeysAndValues:    []any{"cause", cause},
	})
}

func (p *Provider) unavailable(ctx context.Context, err error) {
	p.metrics.RecordDirectoryUnavailable()
	p.audit.Audit(plog.AuditEventDirectoryUnavailable, &plog.AuditParams{
		ReqCtx:        ctx,
		KeysAndValues: []any{"url", p.pool.URL().String(), "err", err.Error()},
	})
}
