// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

// LogLevel is an enum that controls verbosity of logs.
// Valid values in order of increasing verbosity are leaving it unset, info, debug, trace and all.
type LogLevel string

const (
	// LevelWarning (i.e. leaving the log level unset) maps to logr verbosity 0.
	LevelWarning LogLevel = ""
	// LevelInfo maps to logr verbosity 2.
	LevelInfo LogLevel = "info"
	// LevelDebug maps to logr verbosity 4.
	LevelDebug LogLevel = "debug"
	// LevelTrace maps to logr verbosity 6.
	LevelTrace LogLevel = "trace"
	// LevelAll maps to logr verbosity 108 (conceptually it is verbosity 8).
	LevelAll LogLevel = "all"
)

const (
	verbosityWarning = iota * 2
	verbosityInfo
	verbosityDebug
	verbosityTrace
	verbosityAll
)

// Enabled returns whether the provided level is enabled, i.e., whether print statements at the
// provided level will show up.
func Enabled(level LogLevel) bool {
	v := verbosityForLevel(level)
	if v < 0 {
		return false
	}
	return Logr().V(v).Enabled()
}

// verbosityForLevel returns -1 for unknown levels.
func verbosityForLevel(level LogLevel) int {
	switch level {
	case LevelWarning:
		return verbosityWarning // unset means minimal logs (Error and Warning)
	case LevelInfo:
		return verbosityInfo
	case LevelDebug:
		return verbosityDebug
	case LevelTrace:
		return verbosityTrace
	case LevelAll:
		return verbosityAll + 100 // make all really mean all
	default:
		return -1
	}
}
