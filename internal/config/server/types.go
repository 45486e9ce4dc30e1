// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.pinniped.dev/ldapbind/internal/plog"
)

// Config contains knobs to setup an instance of the ldapbind server.
type Config struct {
	Connection   ConnectionSpec      `json:"connection"`
	BaseDN       string              `json:"baseDN"`
	DNResolution DNResolutionSpec    `json:"dnResolution"`
	Form         FormSpec            `json:"form"`
	Listen       *Endpoint           `json:"listen"`
	Log          plog.LogSpec        `json:"log"`
	Audit        plog.AuditLogConfig `json:"audit"`
	Metrics      MetricsSpec         `json:"metrics"`
}

// ConnectionSpec configures how the directory is reached and which service identity idle
// connections are bound as.
type ConnectionSpec struct {
	URL              string           `json:"url"`
	BindDN           string           `json:"bindDN,omitempty"`
	BindPassword     string           `json:"bindPassword,omitempty"`
	BindPasswordFile string           `json:"bindPasswordFile,omitempty"`
	PoolSize         *int             `json:"poolSize,omitempty"`
	BindTimeout      *metav1.Duration `json:"bindTimeout,omitempty"`
	DialTimeout      *metav1.Duration `json:"dialTimeout,omitempty"`
}

// DNResolutionSpec selects how a login is turned into a DN.
type DNResolutionSpec struct {
	Strategy     string `json:"strategy,omitempty"`
	Attribute    string `json:"attribute,omitempty"`
	Path         string `json:"path,omitempty"`
	SearchFilter string `json:"searchFilter,omitempty"`
}

// FormSpec configures the login form.
type FormSpec struct {
	LoginField           string `json:"loginField,omitempty"`
	PasswordField        string `json:"passwordField,omitempty"`
	TriggerParam         string `json:"triggerParam,omitempty"`
	IdentifierPluginName string `json:"identifierPluginName,omitempty"`
	Title                string `json:"title,omitempty"`
}

type Endpoint struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

type MetricsSpec struct {
	Enabled *bool `json:"enabled,omitempty"`
}
