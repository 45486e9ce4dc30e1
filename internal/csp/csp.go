// Copyright 2022-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package csp defines helpers related to HTML Content Security Policies.
package csp

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Default allows nothing to load and forbids framing. Pages with inline styles build their own
// policy with Join and Hash.
const Default = "default-src 'none'; frame-ancestors 'none'"

// Hash returns the CSP source expression ("sha256-...") for an inline script or style.
func Hash(s string) string {
	hashBytes := sha256.Sum256([]byte(s))
	return "sha256-" + base64.StdEncoding.EncodeToString(hashBytes[:])
}

// Join builds a policy header value from directives.
func Join(directives ...string) string {
	return strings.Join(directives, "; ")
}
