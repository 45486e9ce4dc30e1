// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package here provides heredoc helpers for writing multi-line fixtures (YAML configs, expected log
// output, HTML) inline in tests.
package here

import (
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
)

const (
	tab        = "\t"
	fourSpaces = "    "
)

// Doc removes the common indentation of s and turns any remaining tabs into four spaces, which keeps
// YAML fixtures valid even when they are indented with tabs in Go source.
func Doc(s string) string {
	return strings.ReplaceAll(heredoc.Doc(s), tab, fourSpaces)
}

// Docf is Doc followed by fmt.Sprintf style formatting.
func Docf(raw string, args ...any) string {
	return strings.ReplaceAll(heredoc.Docf(raw, args...), tab, fourSpaces)
}
