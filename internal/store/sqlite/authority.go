// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
	"github.com/waypoint-dev/waypoint/pkg/types"
)

var _ store.Admin = (*AuthorityStore)(nil)

// AuthorityStore implements store.Admin backed by a single SQLite database.
type AuthorityStore struct {
	db *sql.DB
}

// NewAuthorityStore opens (or creates) a SQLite database at dbPath and
// initialises the provider_chains, feature_flags, health_reports and
// decision_traces tables.
func NewAuthorityStore(dbPath string) (*AuthorityStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, wperr.Errorf(wperr.CodeStoreDatabaseFailure, "opening authority db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, wperr.Errorf(wperr.CodeStoreDatabaseFailure, "pinging authority db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, wperr.Errorf(wperr.CodeStoreDatabaseFailure, "migrating authority db: %w", err)
	}

	return &AuthorityStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS provider_chains (
	intent      TEXT    NOT NULL,
	position    INTEGER NOT NULL,
	provider_id TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	model_hint  TEXT    NOT NULL DEFAULT '',
	configured  INTEGER NOT NULL DEFAULT 1,
	status      TEXT    NOT NULL,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (intent, provider_id)
);

CREATE TABLE IF NOT EXISTS feature_flags (
	name       TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL,
	updated_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS health_reports (
	entity      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	observed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_traces (
	id              TEXT PRIMARY KEY,
	timestamp       TEXT    NOT NULL,
	type            TEXT    NOT NULL,
	correlation_id  TEXT    NOT NULL DEFAULT '',
	policy          TEXT    NOT NULL DEFAULT '',
	inputs          TEXT    NOT NULL DEFAULT '{}',
	selected        TEXT    NOT NULL DEFAULT '',
	fallback_chain  TEXT    NOT NULL DEFAULT '[]',
	outcome         TEXT    NOT NULL,
	fallback_reason TEXT    NOT NULL DEFAULT '',
	error_class     TEXT    NOT NULL DEFAULT '',
	latency_ms      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_decision_traces_timestamp   ON decision_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_decision_traces_type        ON decision_traces(type, timestamp);
CREATE INDEX IF NOT EXISTS idx_decision_traces_correlation ON decision_traces(correlation_id);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *AuthorityStore) Close() error {
	return s.db.Close()
}

func (s *AuthorityStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wperr.Wrap(err, wperr.CodeStoreAuthorityUnavailable, "pinging authority db")
	}
	return nil
}

// --- provider chains ---

func (s *AuthorityStore) GetProviderChain(ctx context.Context, intent string) (*store.ProviderChain, error) {
	const q = `SELECT provider_id, position, kind, model_hint, configured, status, updated_at
FROM provider_chains WHERE intent = ? ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, q, intent)
	if err != nil {
		return nil, dbErr(err, "querying provider chain %s", intent)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	chain := &store.ProviderChain{Intent: intent}
	for rows.Next() {
		var d store.ProviderDescriptor
		var kind, status, updated string
		var configured int
		if err := rows.Scan(&d.ID, &d.Order, &kind, &d.ModelHint, &configured, &status, &updated); err != nil {
			return nil, dbErr(err, "scanning provider chain %s", intent)
		}
		d.Kind = types.ProviderKind(kind)
		d.Status = types.ProviderStatus(status)
		d.Configured = configured != 0
		if ts := parseTime(updated); ts.After(chain.UpdatedAt) {
			chain.UpdatedAt = ts
		}
		chain.Providers = append(chain.Providers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating provider chain %s", intent)
	}

	if len(chain.Providers) == 0 {
		return nil, wperr.Wrap(store.ErrNotFound, wperr.CodeStoreChainNotFound, "no provider chain published",
			wperr.FieldIntent(intent))
	}
	return chain, nil
}

// PutProviderChain replaces the chain for chain.Intent. Providers are stored
// in ascending Order; ties keep their slice order.
func (s *AuthorityStore) PutProviderChain(ctx context.Context, chain *store.ProviderChain) error {
	if err := chain.Validate(); err != nil {
		return err
	}

	providers := slices.Clone(chain.Providers)
	slices.SortStableFunc(providers, func(a, b store.ProviderDescriptor) int { return a.Order - b.Order })

	updated := chain.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err, "beginning chain update %s", chain.Intent)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_chains WHERE intent = ?`, chain.Intent); err != nil {
		return dbErr(err, "clearing provider chain %s", chain.Intent)
	}

	const ins = `INSERT INTO provider_chains (intent, position, provider_id, kind, model_hint, configured, status, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for i, p := range providers {
		if _, err := tx.ExecContext(ctx, ins,
			chain.Intent, i, p.ID, string(p.Kind), p.ModelHint, boolInt(p.Configured), string(p.Status), formatTime(updated),
		); err != nil {
			return dbErr(err, "inserting provider %s into chain %s", p.ID, chain.Intent)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr(err, "committing provider chain %s", chain.Intent)
	}
	return nil
}

// --- feature flags ---

func (s *AuthorityStore) GetFeatureFlags(ctx context.Context) (store.FeatureFlags, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM feature_flags`)
	if err != nil {
		return nil, dbErr(err, "querying feature flags")
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	flags := store.FeatureFlags{}
	for rows.Next() {
		var name string
		var enabled int
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, dbErr(err, "scanning feature flag")
		}
		flags[name] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating feature flags")
	}
	return flags, nil
}

func (s *AuthorityStore) SetFeatureFlag(ctx context.Context, name string, enabled bool) error {
	if name == "" {
		return wperr.New(wperr.CodeStoreInvalidInput, "feature flag: name is required")
	}
	const q = `INSERT INTO feature_flags (name, enabled, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, name, boolInt(enabled), formatTime(time.Now())); err != nil {
		return dbErr(err, "setting feature flag %s", name)
	}
	return nil
}

// --- health reports ---

func (s *AuthorityStore) GetHealth(ctx context.Context) ([]*store.HealthReport, error) {
	const q = `SELECT entity, kind, status, detail, observed_at FROM health_reports ORDER BY entity ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, dbErr(err, "querying health reports")
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var reports []*store.HealthReport
	for rows.Next() {
		var r store.HealthReport
		var status, observed string
		if err := rows.Scan(&r.Entity, &r.Kind, &status, &r.Detail, &observed); err != nil {
			return nil, dbErr(err, "scanning health report")
		}
		r.Status = types.HealthState(status)
		r.ObservedAt = parseTime(observed)
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating health reports")
	}
	return reports, nil
}

func (s *AuthorityStore) PutHealthReport(ctx context.Context, report *store.HealthReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	observed := report.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	const q = `INSERT INTO health_reports (entity, kind, status, detail, observed_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(entity) DO UPDATE SET kind = excluded.kind, status = excluded.status,
	detail = excluded.detail, observed_at = excluded.observed_at`
	if _, err := s.db.ExecContext(ctx, q,
		report.Entity, report.Kind, string(report.Status), report.Detail, formatTime(observed),
	); err != nil {
		return dbErr(err, "storing health report %s", report.Entity)
	}
	return nil
}

// --- decision traces ---

// AppendDecisionTrace inserts trace unless a trace with the same ID already
// exists, so retried flushes never duplicate records.
func (s *AuthorityStore) AppendDecisionTrace(ctx context.Context, trace *store.DecisionTrace) error {
	if err := trace.Validate(); err != nil {
		return err
	}

	inputs := "{}"
	if trace.Inputs != nil {
		b, err := json.Marshal(trace.Inputs)
		if err != nil {
			return wperr.Wrap(err, wperr.CodeStoreInvalidInput, "marshalling trace inputs", wperr.FieldTraceID(trace.ID))
		}
		inputs = string(b)
	}
	attempts := trace.FallbackChain
	if attempts == nil {
		attempts = []store.Attempt{}
	}
	chain, err := json.Marshal(attempts)
	if err != nil {
		return wperr.Wrap(err, wperr.CodeStoreInvalidInput, "marshalling fallback chain", wperr.FieldTraceID(trace.ID))
	}

	const q = `INSERT OR IGNORE INTO decision_traces
(id, timestamp, type, correlation_id, policy, inputs, selected, fallback_chain, outcome, fallback_reason, error_class, latency_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, q,
		trace.ID, formatTime(trace.Timestamp), string(trace.Type), trace.CorrelationID, trace.Policy,
		inputs, trace.Selected, string(chain), string(trace.Outcome), trace.FallbackReason,
		string(trace.ErrorClass), trace.LatencyMS,
	); err != nil {
		return dbErr(err, "appending decision trace %s", trace.ID)
	}
	return nil
}

func (s *AuthorityStore) QueryDecisionTraces(ctx context.Context, filter store.TraceFilter) ([]*store.DecisionTrace, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT id, timestamp, type, correlation_id, policy, inputs, selected, fallback_chain,
	outcome, fallback_reason, error_class, latency_ms FROM decision_traces`)

	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, formatTime(filter.To))
	}

	if len(conditions) > 0 {
		qb.WriteString(" WHERE ")
		qb.WriteString(strings.Join(conditions, " AND "))
	}

	qb.WriteString(" ORDER BY timestamp DESC, id ASC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	qb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, dbErr(err, "querying decision traces")
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var traces []*store.DecisionTrace
	for rows.Next() {
		var t store.DecisionTrace
		var ts, typ, inputs, chain, outcome, errClass string
		if err := rows.Scan(
			&t.ID, &ts, &typ, &t.CorrelationID, &t.Policy, &inputs, &t.Selected, &chain,
			&outcome, &t.FallbackReason, &errClass, &t.LatencyMS,
		); err != nil {
			return nil, dbErr(err, "scanning decision trace")
		}
		t.Timestamp = parseTime(ts)
		t.Type = types.DecisionType(typ)
		t.Outcome = types.Outcome(outcome)
		t.ErrorClass = types.ErrorClass(errClass)
		if err := json.Unmarshal([]byte(inputs), &t.Inputs); err != nil {
			return nil, dbErr(err, "decoding inputs of trace %s", t.ID)
		}
		if err := json.Unmarshal([]byte(chain), &t.FallbackChain); err != nil {
			return nil, dbErr(err, "decoding fallback chain of trace %s", t.ID)
		}
		traces = append(traces, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating decision traces")
	}
	return traces, nil
}

func (s *AuthorityStore) PurgeDecisionTraces(ctx context.Context, decisionType types.DecisionType, olderThan time.Time) (int64, error) {
	if !decisionType.Valid() {
		return 0, wperr.Errorf(wperr.CodeStoreInvalidInput, "purge: invalid decision type %q", decisionType)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_traces WHERE type = ? AND timestamp < ?`,
		string(decisionType), formatTime(olderThan))
	if err != nil {
		return 0, dbErr(err, "purging %s traces", decisionType)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err, "counting purged %s traces", decisionType)
	}
	return n, nil
}

// dbErr classifies a database error. Deadline and cancellation surface as
// store timeouts so callers can fall back to cached values.
func dbErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wperr.Wrap(err, wperr.CodeStoreAuthorityTimeout, msg)
	}
	return wperr.Wrap(errors.Join(store.ErrDatabase, err), wperr.CodeStoreDatabaseFailure, msg)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
