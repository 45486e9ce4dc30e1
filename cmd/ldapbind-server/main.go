// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entrypoint for ldapbind-server.
package main

import (
	"go.pinniped.dev/ldapbind/internal/server"
)

func main() {
	server.Main()
}
