// Copyright 2020-2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestVerbosityForLevel(t *testing.T) {
	require.Equal(t, 0, verbosityForLevel(LevelWarning))
	require.Equal(t, 2, verbosityForLevel(LevelInfo))
	require.Equal(t, 4, verbosityForLevel(LevelDebug))
	require.Equal(t, 6, verbosityForLevel(LevelTrace))
	require.Equal(t, 108, verbosityForLevel(LevelAll))
	require.Equal(t, -1, verbosityForLevel("panda"))
}

func TestZapLevelToPlogLevel(t *testing.T) {
	tests := []struct {
		zapLevel zapcore.Level
		want     LogLevel
	}{
		{zapLevel: zapcore.ErrorLevel, want: "error"},
		{zapLevel: 0, want: ""},
		{zapLevel: -1, want: ""},
		{zapLevel: -2, want: LevelInfo},
		{zapLevel: -4, want: LevelDebug},
		{zapLevel: -5, want: LevelDebug},
		{zapLevel: -6, want: LevelTrace},
		{zapLevel: -8, want: LevelAll},
		{zapLevel: -108, want: LevelAll},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, zapLevelToPlogLevel(tt.zapLevel), "zap level %d", tt.zapLevel)
	}
}

func TestEnabled(t *testing.T) {
	resetGlobalLogger(t)()
	t.Cleanup(resetGlobalLogger(t))

	require.True(t, Enabled(LevelWarning))
	require.False(t, Enabled(LevelDebug))
	require.False(t, Enabled("panda"))

	globalLevel.SetLevel(-4)
	require.True(t, Enabled(LevelInfo))
	require.True(t, Enabled(LevelDebug))
	require.False(t, Enabled(LevelTrace))
}
