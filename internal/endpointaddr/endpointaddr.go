// Copyright 2021-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package endpointaddr implements parsing and validation of "<host>[:<port>]" strings and of
// "ldap://" / "ldaps://" directory URLs.
package endpointaddr

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	SchemeLDAP  = "ldap"
	SchemeLDAPS = "ldaps"

	DefaultLDAPPort  uint16 = 389
	DefaultLDAPSPort uint16 = 636
)

type HostPort struct {
	// Host is the validated host part of the input, which may be a hostname or IP.
	Host string

	// Port is the validated port number, which may be defaulted.
	Port uint16
}

// Endpoint is the host:port validated from the input, where port may be a default value.
//
// This string can be passed to net.Dial.
func (h *HostPort) Endpoint() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(int(h.Port)))
}

// Parse an "endpoint address" string, providing a default port. The input can be in several valid formats:
//
// - "<hostname>"        (DNS hostname)
// - "<IPv4>"            (IPv4 address)
// - "<IPv6>"            (IPv6 address)
// - "<hostname>:<port>" (DNS hostname with port)
// - "<IPv4>:<port>"     (IPv4 address with port)
// - "[<IPv6>]:<port>"   (IPv6 address with port, brackets are required)
//
// If the input does not specify a port number, then defaultPort will be used.
func Parse(endpoint string, defaultPort uint16) (HostPort, error) {
	host, port, err := net.SplitHostPort(endpoint)

	// If we got an error parsing the raw input, try adding the default port.
	if err != nil {
		host, port, err = net.SplitHostPort(net.JoinHostPort(endpoint, strconv.Itoa(int(defaultPort))))
	}

	// Give up if there's still an error splitting the host and port.
	if err != nil {
		return HostPort{}, err
	}

	// Parse the port number is an integer in the range of valid ports.
	integerPort, _ := strconv.Atoi(port)
	if len(validation.IsValidPortNum(integerPort)) > 0 {
		return HostPort{}, fmt.Errorf("invalid port %q", port)
	}

	// Check if the host part is a IPv4 or IPv6 address or a valid hostname according to RFC 1123.
	switch {
	case net.ParseIP(host) != nil:
	case len(validation.IsDNS1123Subdomain(host)) == 0:
	default:
		return HostPort{}, fmt.Errorf("host %q is not a valid hostname or IP address", host)
	}

	return HostPort{Host: host, Port: uint16(integerPort)}, nil //nolint:gosec // validated above
}

// DirectoryURL is a parsed "ldap://host[:port]" or "ldaps://host[:port]" connection reference.
type DirectoryURL struct {
	HostPort

	// Scheme is either SchemeLDAP or SchemeLDAPS.
	Scheme string
}

// TLS returns true when the connection must be made over TLS from the start (ldaps).
func (d DirectoryURL) TLS() bool {
	return d.Scheme == SchemeLDAPS
}

// String returns the normalized URL, always including the port.
func (d DirectoryURL) String() string {
	return d.Scheme + "://" + d.Endpoint()
}

// ParseDirectoryURL parses a directory connection reference. The port defaults to 389 for ldap and
// 636 for ldaps. Paths, queries, fragments and userinfo are rejected, since bind credentials and
// search bases are configured separately.
func ParseDirectoryURL(raw string) (DirectoryURL, error) {
	if len(strings.TrimSpace(raw)) == 0 {
		return DirectoryURL{}, fmt.Errorf("directory URL must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return DirectoryURL{}, fmt.Errorf("invalid directory URL: %w", err)
	}

	var defaultPort uint16
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case SchemeLDAP:
		defaultPort = DefaultLDAPPort
	case SchemeLDAPS:
		defaultPort = DefaultLDAPSPort
	default:
		return DirectoryURL{}, fmt.Errorf("directory URL %q must use the %q or %q scheme", raw, SchemeLDAP, SchemeLDAPS)
	}

	if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return DirectoryURL{}, fmt.Errorf("directory URL %q must only contain a scheme, host and optional port", raw)
	}

	if len(u.Host) == 0 {
		return DirectoryURL{}, fmt.Errorf("directory URL %q is missing a host", raw)
	}

	hostPort, err := Parse(u.Host, defaultPort)
	if err != nil {
		return DirectoryURL{}, fmt.Errorf("directory URL %q: %w", raw, err)
	}

	return DirectoryURL{HostPort: hostPort, Scheme: strings.ToLower(u.Scheme)}, nil
}
