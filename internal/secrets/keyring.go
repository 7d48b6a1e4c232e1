// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/zalando/go-keyring"
)

// indexSuffix names the keyring entry that holds the JSON list of key names
// for a service; go-keyring cannot enumerate entries on its own.
const indexSuffix = "::keys-index"

// KeyringStore keeps secrets in the OS keyring via zalando/go-keyring
// (Keychain on macOS, secret-service on Linux, Credential Manager on Windows).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkRef("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return wperr.Wrapf(err, wperr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkRef("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", wperr.Errorf(wperr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", wperr.Wrapf(err, wperr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkRef("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return wperr.Errorf(wperr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return wperr.Wrapf(err, wperr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, wperr.Wrapf(err, wperr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, wperr.Wrapf(err, wperr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, edit func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = edit(keys)

	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return wperr.Wrapf(err, wperr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return wperr.Wrapf(err, wperr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}

func checkRef(op, service, key string) error {
	if service == "" {
		return wperr.Errorf(wperr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return wperr.Errorf(wperr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}

// KeyringSource exposes one keyring service as a resolver Source.
type KeyringSource struct {
	store   Store
	service string
}

func NewKeyringSource(store Store, service string) *KeyringSource {
	return &KeyringSource{store: store, service: service}
}

func (k *KeyringSource) Name() SourceName { return SourceKeyring }

// Lookup treats a keyring://service/key name as a direct reference into
// that service; any other name is a key under the source's own service.
func (k *KeyringSource) Lookup(_ context.Context, name string) (string, bool, error) {
	service, key := k.service, name
	if IsKeyringURI(name) {
		var err error
		if service, key, err = ParseKeyringURI(name); err != nil {
			return "", false, err
		}
	}
	val, err := k.store.Retrieve(service, key)
	if err != nil {
		if wperr.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}
