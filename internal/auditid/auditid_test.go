// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package auditid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.pinniped.dev/ldapbind/internal/plog"
)

func TestNewRequestWithAuditID(t *testing.T) {
	r, auditID := NewRequestWithAuditID(httptest.NewRequest(http.MethodGet, "/", nil), func() string { return "some-id" })
	require.Equal(t, "some-id", auditID)

	fromCtx, ok := plog.AuditIDFrom(r.Context())
	require.True(t, ok)
	require.Equal(t, "some-id", fromCtx)
}

func TestWithAuditID(t *testing.T) {
	var seen []string
	handler := WithAuditID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auditID, ok := plog.AuditIDFrom(r.Context())
		require.True(t, ok)
		seen = append(seen, auditID)
	}), nil)

	for range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, seen[len(seen)-1], rec.Header().Get(HeaderAuditID))
		_, err := uuid.Parse(rec.Header().Get(HeaderAuditID))
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	require.NotEqual(t, seen[0], seen[1])
}
