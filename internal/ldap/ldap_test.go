// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ldap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredentialsComplete(t *testing.T) {
	var nilCreds *Credentials
	require.False(t, nilCreds.Complete())
	require.False(t, (&Credentials{}).Complete())
	require.False(t, (&Credentials{Login: "carla"}).Complete())
	require.False(t, (&Credentials{Password: "hello"}).Complete())
	require.True(t, (&Credentials{Login: "carla", Password: "hello"}).Complete())
}

func TestFormIdentityCredentials(t *testing.T) {
	id := &FormIdentity{Login: "carla", Password: "hello", DN: "uid=carla,dc=example,dc=org", Identifier: "form"}
	require.Equal(t, &Credentials{Login: "carla", Password: "hello"}, id.Credentials())
}

func TestIdentityJSON(t *testing.T) {
	b, err := json.Marshal(&Identity{DN: "uid=carla,dc=example,dc=org"})
	require.NoError(t, err)
	require.JSONEq(t, `{"dn":"uid=carla,dc=example,dc=org"}`, string(b))
}
