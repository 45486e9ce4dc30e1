// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package securityheader implements an HTTP middleware for setting security-related response headers.
package securityheader

import (
	"net/http"

	"go.pinniped.dev/ldapbind/internal/csp"
)

// Wrap the provided http.Handler so it sets appropriate security-related response headers.
func Wrap(wrapped http.Handler) http.Handler {
	return WrapWithCustomCSP(wrapped, csp.Default)
}

// WrapWithCustomCSP is Wrap with a different Content-Security-Policy. Handlers which render their own
// page may still replace the policy by calling Set before writing the response.
func WrapWithCustomCSP(wrapped http.Handler, cspHeader string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Set(w.Header(), cspHeader)
		wrapped.ServeHTTP(w, r)
	})
}

// Set writes the security-related headers into h.
func Set(h http.Header, cspHeader string) {
	h.Set("Content-Security-Policy", cspHeader)
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-DNS-Prefetch-Control", "off")
	h.Set("Cache-Control", "no-cache,no-store,max-age=0,must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}
