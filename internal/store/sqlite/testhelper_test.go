// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/store/sqlite"
)

// openTestStore opens a fresh authority database in a temp directory.
func openTestStore(t *testing.T) *sqlite.AuthorityStore {
	t.Helper()
	s, err := sqlite.NewAuthorityStore(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
