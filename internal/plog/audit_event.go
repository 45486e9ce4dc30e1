// Copyright 2024-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

import (
	"context"
	"fmt"
	"net/url"

	"k8s.io/apimachinery/pkg/util/sets"
)

type AuditEventMessage string

const (
	AuditEventHTTPRequestReceived        AuditEventMessage = "HTTP Request Received"
	AuditEventHTTPRequestCompleted       AuditEventMessage = "HTTP Request Completed"
	AuditEventHTTPRequestParameters      AuditEventMessage = "HTTP Request Parameters"
	AuditEventIdentityFromForm           AuditEventMessage = "Identity From Form"
	AuditEventAuthenticationSucceeded    AuditEventMessage = "Authentication Succeeded"
	AuditEventAuthenticationRejected     AuditEventMessage = "Authentication Rejected"
	AuditEventAuthenticationNotAttempted AuditEventMessage = "Authentication Not Attempted"
	AuditEventDirectoryUnavailable       AuditEventMessage = "Directory Unavailable"
	AuditEventLoginChallengeIssued       AuditEventMessage = "Login Challenge Issued"
)

// AuditLogConfig controls which personal information may appear in audit events.
type AuditLogConfig struct {
	// LogLogins, when false, redacts the values of all PII keys (logins and DNs).
	LogLogins bool `json:"logLogins,omitempty"`
}

// AuditParams are the optional parts of an audit event.
type AuditParams struct {
	// ReqCtx, when it carries an audit ID (see WithAuditID), adds "auditID" to the event.
	ReqCtx context.Context
	// PIIKeysAndValues are nested under "personalInfo" and are subject to redaction.
	PIIKeysAndValues []any
	// KeysAndValues are logged as-is.
	KeysAndValues []any
}

type AuditLogger interface {
	Audit(msg AuditEventMessage, p *AuditParams)
}

type auditLogger struct {
	logger Logger
	cfg    AuditLogConfig
}

var _ AuditLogger = (*auditLogger)(nil)

// NewAuditLogger returns an AuditLogger which writes to the global logger. Audit events are logged at
// the always level since they must not depend on the configured verbosity.
func NewAuditLogger(cfg AuditLogConfig) AuditLogger {
	return &auditLogger{logger: New(), cfg: cfg}
}

func (a *auditLogger) Audit(msg AuditEventMessage, p *AuditParams) {
	keysAndValues := []any{"auditEvent", true}

	if p != nil {
		if p.ReqCtx != nil {
			if auditID, ok := AuditIDFrom(p.ReqCtx); ok {
				keysAndValues = append(keysAndValues, "auditID", auditID)
			}
		}

		if len(p.PIIKeysAndValues) > 0 {
			keysAndValues = append(keysAndValues, "personalInfo", a.personalInfo(p.PIIKeysAndValues))
		}

		keysAndValues = append(keysAndValues, p.KeysAndValues...)
	}

	a.logger.withDepth(1).Always(string(msg), keysAndValues...)
}

func (a *auditLogger) personalInfo(keysAndValues []any) map[string]any {
	info := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			info[key] = "missing value" // odd number of keys and values is a programmer error
			continue
		}
		if a.cfg.LogLogins {
			info[key] = keysAndValues[i+1]
		} else {
			info[key] = "redacted"
		}
	}
	return info
}

type auditIDContextKey struct{}

// WithAuditID returns a copy of ctx which carries the given audit ID.
func WithAuditID(ctx context.Context, auditID string) context.Context {
	return context.WithValue(ctx, auditIDContextKey{}, auditID)
}

// AuditIDFrom returns the audit ID carried by ctx, if any.
func AuditIDFrom(ctx context.Context) (string, bool) {
	auditID, ok := ctx.Value(auditIDContextKey{}).(string)
	return auditID, ok && len(auditID) > 0
}

// SanitizeParams can be used to redact all params not included in the allowedKeys set.
// Useful when audit logging AuditEventHTTPRequestParameters events, since form posts carry passwords.
func SanitizeParams(params url.Values, allowedKeys sets.Set[string]) string {
	if len(params) == 0 {
		return ""
	}
	sanitized := url.Values{}
	for key := range params {
		if allowedKeys.Has(key) {
			sanitized[key] = params[key]
		} else {
			for range params[key] {
				sanitized.Add(key, "redacted")
			}
		}
	}
	return sanitized.Encode()
}
