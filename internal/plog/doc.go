// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package plog implements a thin layer over logr and zap to help enforce our logging convention.
// Logs are always structured as a constant message with key and value pairs of related metadata.
//
// The logging levels in order of increasing verbosity are:
// error, warning, info, debug, trace and all.
//
// error and warning logs are always emitted (there is no way for the end user to disable them),
// and thus should be used sparingly. Ideally, logs at these levels should be actionable, e.g. the
// directory server is unreachable.
//
// info should be reserved for "nice to know" information. It should be possible to run a production
// server at the info log level with no performance degradation due to high log volume.
//
// debug should be used for information targeted at developers and to aid in support cases, such as
// why a particular login was rejected. Care must be taken at this level to not leak any secrets into
// the log stream. Passwords are never logged at any level.
//
// trace should be used to log information related to timing (i.e. how long a bind took).
//
// all is reserved for the most verbose and security sensitive information. This level is completely
// unfit for production use both from a performance and security standpoint.
package plog
