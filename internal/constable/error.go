// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package constable provides a string type that implements error so that sentinel errors can be constants.
package constable

var _ error = Error("")

// Error is a constant error. Compare with errors.Is or ==, since two Errors with the same text are equal.
type Error string

func (e Error) Error() string {
	return string(e)
}
