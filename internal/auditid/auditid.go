// Copyright 2024-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package auditid gives each request an ID which appears on every audit event logged while serving it.
package auditid

import (
	"net/http"

	"github.com/google/uuid"

	"go.pinniped.dev/ldapbind/internal/plog"
)

// HeaderAuditID is the response header which carries the audit ID back to the client.
const HeaderAuditID = "Audit-ID"

// NewRequestWithAuditID is public for use in unit tests. Production code should use WithAuditID().
func NewRequestWithAuditID(r *http.Request, newAuditIDFunc func() string) (*http.Request, string) {
	auditID := newAuditIDFunc()
	return r.WithContext(plog.WithAuditID(r.Context(), auditID)), auditID
}

// WithAuditID wraps handler so that every request gets a random audit ID. When newAuditIDFunc is nil,
// random UUIDs are used.
func WithAuditID(handler http.Handler, newAuditIDFunc func() string) http.Handler {
	if newAuditIDFunc == nil {
		newAuditIDFunc = uuid.NewString
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add a randomly generated request ID to the context for this request.
		r, auditID := NewRequestWithAuditID(r, newAuditIDFunc)

		// Send the Audit-ID response header.
		w.Header().Set(HeaderAuditID, auditID)

		handler.ServeHTTP(w, r)
	})
}
