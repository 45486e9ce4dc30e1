// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"time"
)

// Noop is a Recorder which does nothing, used when metrics are disabled.
type Noop struct{}

var _ Recorder = (*Noop)(nil)

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) RecordAuthentication(string, time.Duration) {}
func (n *Noop) RecordBindFailure(string)                   {}
func (n *Noop) RecordDirectoryUnavailable()                {}
func (n *Noop) ConnectionDialed()                          {}
func (n *Noop) ConnectionDiscarded()                       {}
func (n *Noop) CheckoutsInFlight(int)                      {}

// Handler responds with 404 since there is nothing to expose.
func (n *Noop) Handler() http.Handler {
	return http.NotFoundHandler()
}
