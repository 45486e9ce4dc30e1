// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package server contains functionality to load a Config for the ldapbind server from a YAML file.
package server

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"go.pinniped.dev/ldapbind/internal/connpool"
	"go.pinniped.dev/ldapbind/internal/constable"
	"go.pinniped.dev/ldapbind/internal/dnresolver"
	"go.pinniped.dev/ldapbind/internal/endpointaddr"
	"go.pinniped.dev/ldapbind/internal/ldapconn"
	"go.pinniped.dev/ldapbind/internal/plog"
	"go.pinniped.dev/ldapbind/internal/upstreamldap"
)

const (
	NetworkUnix = "unix"
	NetworkTCP  = "tcp"

	DefaultListenAddress = ":8080"
)

// FromPath loads a Config from a provided local file path, inserts any
// defaults, and verifies that the config is valid. The global log level
// and format are set from the config as a side effect.
func FromPath(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := validateConnection(&config.Connection); err != nil {
		return nil, fmt.Errorf("validate connection: %w", err)
	}

	maybeSetConnectionDefaults(&config.Connection)

	if err := validateDNResolution(&config.DNResolution, config.BaseDN); err != nil {
		return nil, fmt.Errorf("validate dnResolution: %w", err)
	}

	maybeSetEndpointDefault(&config.Listen, Endpoint{
		Network: NetworkTCP,
		Address: DefaultListenAddress,
	})

	if err := validateEndpoint(*config.Listen); err != nil {
		return nil, fmt.Errorf("validate listen: %w", err)
	}

	if config.Metrics.Enabled == nil {
		config.Metrics.Enabled = ptr.To(true)
	}

	if err := plog.ValidateAndSetLogLevelAndFormatGlobally(ctx, config.Log); err != nil {
		return nil, fmt.Errorf("validate log level: %w", err)
	}

	return &config, nil
}

func validateConnection(c *ConnectionSpec) error {
	if len(c.URL) == 0 {
		return constable.Error("url is required")
	}
	if _, err := endpointaddr.ParseDirectoryURL(c.URL); err != nil {
		return err
	}

	if len(c.BindPasswordFile) > 0 {
		if len(c.BindPassword) > 0 {
			return constable.Error("only one of bindPassword and bindPasswordFile may be set")
		}
		password, err := os.ReadFile(c.BindPasswordFile)
		if err != nil {
			return fmt.Errorf("read bindPasswordFile: %w", err)
		}
		c.BindPassword = strings.TrimRight(string(password), "\r\n")
		c.BindPasswordFile = ""
	}
	if len(c.BindPassword) > 0 && len(c.BindDN) == 0 {
		return constable.Error("bindPassword is set but bindDN is not")
	}

	if c.PoolSize != nil && *c.PoolSize < 1 {
		return fmt.Errorf("poolSize must be at least 1, got %d", *c.PoolSize)
	}
	if c.BindTimeout != nil && c.BindTimeout.Duration <= 0 {
		return fmt.Errorf("bindTimeout must be positive, got %s", c.BindTimeout.Duration)
	}
	if c.DialTimeout != nil && c.DialTimeout.Duration <= 0 {
		return fmt.Errorf("dialTimeout must be positive, got %s", c.DialTimeout.Duration)
	}
	return nil
}

func maybeSetConnectionDefaults(c *ConnectionSpec) {
	if c.PoolSize == nil {
		c.PoolSize = ptr.To(connpool.DefaultSize)
	}
	maybeSetDurationDefault(&c.BindTimeout, upstreamldap.DefaultBindTimeout)
	maybeSetDurationDefault(&c.DialTimeout, ldapconn.DefaultDialTimeout)
}

func maybeSetDurationDefault(d **metav1.Duration, defaultDuration time.Duration) {
	if *d != nil {
		return
	}
	*d = &metav1.Duration{Duration: defaultDuration}
}

func validateDNResolution(r *DNResolutionSpec, baseDN string) error {
	if len(r.Strategy) == 0 {
		r.Strategy = dnresolver.StrategyTemplate
	}
	switch r.Strategy {
	case dnresolver.StrategyTemplate, dnresolver.StrategySearch:
		if len(baseDN) == 0 {
			return fmt.Errorf("baseDN is required with the %q strategy", r.Strategy)
		}
	case dnresolver.StrategyPassthrough:
	default:
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	return nil
}

func maybeSetEndpointDefault(endpoint **Endpoint, defaultEndpoint Endpoint) {
	if *endpoint != nil {
		return
	}
	*endpoint = &defaultEndpoint
}

func validateEndpoint(endpoint Endpoint) error {
	switch n := endpoint.Network; n {
	case NetworkTCP, NetworkUnix:
		if len(endpoint.Address) == 0 {
			return fmt.Errorf("address must be set with %q network", n)
		}
		return nil
	default:
		return fmt.Errorf("unknown network %q", n)
	}
}
