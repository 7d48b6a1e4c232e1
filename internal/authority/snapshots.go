// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

const (
	chainPrefix = "chain/"
	flagsKey    = "flags"
)

// Snapshots persists the last-known-good chains and flags read from the
// authoritative store so a restart during a store outage still routes.
type Snapshots struct {
	db *badger.DB
}

type envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenSnapshots opens the snapshot database at path. An empty path keeps
// snapshots in memory for the life of the process.
func OpenSnapshots(path string) (*Snapshots, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "creating snapshot directory %s", path)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: slog.Default().With("component", "lkg")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, wperr.Wrap(err, wperr.CodeStoreSnapshotFailure, "opening snapshot database")
	}
	return &Snapshots{db: db}, nil
}

// Close releases the database.
func (s *Snapshots) Close() error {
	if err := s.db.Close(); err != nil {
		return wperr.Wrap(err, wperr.CodeStoreSnapshotFailure, "closing snapshot database")
	}
	return nil
}

// SaveChain records chain as the last-known-good chain for its intent.
func (s *Snapshots) SaveChain(chain *store.ProviderChain, at time.Time) error {
	return s.put(chainPrefix+chain.Intent, chain, at)
}

// LoadChain returns the last-known-good chain for intent and when it was
// saved. A missing snapshot returns ok=false and no error.
func (s *Snapshots) LoadChain(intent string) (*store.ProviderChain, time.Time, bool, error) {
	var chain store.ProviderChain
	at, ok, err := s.get(chainPrefix+intent, &chain)
	if !ok || err != nil {
		return nil, time.Time{}, ok, err
	}
	return &chain, at, true, nil
}

// SaveFlags records the last-known-good feature flags.
func (s *Snapshots) SaveFlags(flags store.FeatureFlags, at time.Time) error {
	return s.put(flagsKey, flags, at)
}

// LoadFlags returns the last-known-good feature flags.
func (s *Snapshots) LoadFlags() (store.FeatureFlags, time.Time, bool, error) {
	var flags store.FeatureFlags
	at, ok, err := s.get(flagsKey, &flags)
	if !ok || err != nil {
		return nil, time.Time{}, ok, err
	}
	return flags, at, true, nil
}

func (s *Snapshots) put(key string, v any, at time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "encoding snapshot %s", key)
	}
	raw, err := json.Marshal(envelope{SavedAt: at.UTC(), Data: data})
	if err != nil {
		return wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "encoding snapshot %s", key)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
	if err != nil {
		return wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "writing snapshot %s", key)
	}
	return nil
}

func (s *Snapshots) get(key string, v any) (time.Time, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "reading snapshot %s", key)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, false, wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "decoding snapshot %s", key)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return time.Time{}, false, wperr.Wrapf(err, wperr.CodeStoreSnapshotFailure, "decoding snapshot %s", key)
	}
	return env.SavedAt, true, nil
}
