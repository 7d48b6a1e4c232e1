// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/waypoint-dev/waypoint/internal/secrets"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

const testConfig = `
networking:
  listen: "127.0.0.1:18790"
providers:
  openai:
    type: openai
    secret: openai_api_key
  local:
    type: local
chains:
  chat: [openai, local]
`

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	mu   sync.Mutex
	data map[string]string // key → value (service is ignored)
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", wperr.Errorf(wperr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return wperr.Errorf(wperr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// useSecretStore swaps the keyring for store for the rest of the test.
func useSecretStore(t *testing.T, store secrets.Store) {
	t.Helper()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })
}

// writeConfig writes body to a waypoint.yaml in a fresh directory.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waypoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// cliEnv isolates a command run: a fresh viper, a temporary HOME so config
// discovery never touches the real one, and an in-memory secret store.
type cliEnv struct {
	t       *testing.T
	cfgPath string
	dataDir string
	secrets *mockSecretStore
}

func newCLIEnv(t *testing.T, cfgBody string) *cliEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WAYPOINT_SECRET_OPENAI_API_KEY", "")

	env := &cliEnv{
		t:       t,
		cfgPath: writeConfig(t, cfgBody),
		dataDir: t.TempDir(),
		secrets: newMockSecretStore(),
	}
	useSecretStore(t, env.secrets)
	return env
}

// run executes the root command with the env's config and data dir. stdin
// may be empty.
func (e *cliEnv) run(stdin string, args ...string) (stdout, stderr string, err error) {
	e.t.Helper()
	viper.Reset()
	e.t.Cleanup(viper.Reset)
	prev := slog.Default()
	e.t.Cleanup(func() { slog.SetDefault(prev) })

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.cfgPath, "--data-dir", e.dataDir}, args...))

	err = root.Execute()
	return out.String(), errOut.String(), err
}
