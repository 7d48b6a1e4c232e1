// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/zalando/go-keyring"
)

func init() {
	// Use the mock keyring for all tests so they don't touch the real OS keyring.
	keyring.MockInit()
}

func TestKeyringStore_StoreAndRetrieve(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-store-retrieve"

	require.NoError(t, ks.Store(svc, "anthropic_api_key", "sk-ant-123"))

	val, err := ks.Retrieve(svc, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", val)
}

func TestKeyringStore_RetrieveNotFound(t *testing.T) {
	ks := secrets.NewKeyringStore()

	_, err := ks.Retrieve("no-such-service", "no-key")
	require.Error(t, err)
	assert.True(t, wperr.HasCode(err, wperr.CodeSecretNotFound), "expected CodeSecretNotFound, got: %v", err)
}

func TestKeyringStore_DeleteAndList(t *testing.T) {
	ks := secrets.NewKeyringStore()
	svc := "test-list-delete"

	keys, err := ks.List(svc)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, ks.Store(svc, "key-x", "val"))
	require.NoError(t, ks.Store(svc, "key-y", "val"))
	require.NoError(t, ks.Store(svc, "key-y", "val2"))

	keys, err = ks.List(svc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"key-x", "key-y"}, keys)

	require.NoError(t, ks.Delete(svc, "key-x"))
	keys, err = ks.List(svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"key-y"}, keys)

	err = ks.Delete(svc, "key-x")
	assert.True(t, wperr.HasCode(err, wperr.CodeSecretNotFound))
}

func TestKeyringStore_RejectsEmptyRefs(t *testing.T) {
	ks := secrets.NewKeyringStore()

	tests := []struct {
		name    string
		service string
		key     string
	}{
		{"empty service", "", "key"},
		{"empty key", "svc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ks.Store(tt.service, tt.key, "val")
			require.Error(t, err)
			assert.True(t, wperr.HasCode(err, wperr.CodeSecretInvalidInput))

			_, err = ks.Retrieve(tt.service, tt.key)
			assert.True(t, wperr.HasCode(err, wperr.CodeSecretInvalidInput))
		})
	}
}

func TestKeyringSource_Lookup(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("test-source", "openai_api_key", "sk-oai"))

	src := secrets.NewKeyringSource(ks, "test-source")
	assert.Equal(t, secrets.SourceKeyring, src.Name())

	val, ok, err := src.Lookup(context.Background(), "openai_api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-oai", val)

	_, ok, err = src.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
