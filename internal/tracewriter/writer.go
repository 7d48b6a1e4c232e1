// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package tracewriter persists decision traces asynchronously. Record never
// blocks: traces go into a bounded ring and a single flusher drains it to the
// authoritative store. When the ring is full the oldest trace is dropped and
// counted.
package tracewriter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waypoint-dev/waypoint/internal/store"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Appender is the store write the flusher needs. Appends must be idempotent
// on trace id; a failed batch is retried with the same ids.
type Appender interface {
	AppendDecisionTrace(ctx context.Context, trace *store.DecisionTrace) error
}

// Config sizes the buffer and sets the flush cadence.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns the defaults used when configuration omits a value.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		BatchSize:     64,
		FlushInterval: time.Second,
		WriteTimeout:  time.Second,
	}
}

// Validate checks that every size and interval is positive.
func (c Config) Validate() error {
	switch {
	case c.BufferSize <= 0:
		return wperr.Errorf(wperr.CodeServerConfigInvalid, "tracewriter: buffer size must be positive, got %d", c.BufferSize)
	case c.BatchSize <= 0:
		return wperr.Errorf(wperr.CodeServerConfigInvalid, "tracewriter: batch size must be positive, got %d", c.BatchSize)
	case c.FlushInterval <= 0:
		return wperr.Errorf(wperr.CodeServerConfigInvalid, "tracewriter: flush interval must be positive, got %s", c.FlushInterval)
	case c.WriteTimeout <= 0:
		return wperr.Errorf(wperr.CodeServerConfigInvalid, "tracewriter: write timeout must be positive, got %s", c.WriteTimeout)
	}
	return nil
}

// Writer buffers traces and flushes them in the background.
type Writer struct {
	store Appender
	cfg   Config

	mu   sync.Mutex
	ring []*store.DecisionTrace
	head int
	size int

	dropped  atomic.Int64
	written  atomic.Int64
	onDrop   func(n int)
	wake     chan struct{}
	flushing sync.Mutex
}

// New creates a Writer that flushes to st.
func New(st Appender, cfg Config) (*Writer, error) {
	if st == nil {
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "tracewriter: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		store: st,
		cfg:   cfg,
		ring:  make([]*store.DecisionTrace, cfg.BufferSize),
		wake:  make(chan struct{}, 1),
	}, nil
}

// OnDrop registers fn to be called with the number of traces dropped each
// time the writer discards data. Must be called before Record is used.
func (w *Writer) OnDrop(fn func(n int)) {
	w.onDrop = fn
}

// Record enqueues a trace for persistence. It never blocks on the store.
func (w *Writer) Record(trace *store.DecisionTrace) {
	if trace == nil {
		return
	}

	w.mu.Lock()
	dropped := 0
	if w.size == len(w.ring) {
		w.ring[w.head] = nil
		w.head = (w.head + 1) % len(w.ring)
		w.size--
		dropped = 1
	}
	w.ring[(w.head+w.size)%len(w.ring)] = trace
	w.size++
	full := w.size >= w.cfg.BatchSize
	w.mu.Unlock()

	if dropped > 0 {
		w.drop(dropped, "buffer full")
	}
	if full {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Dropped returns the number of traces discarded since start.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Written returns the number of traces persisted since start.
func (w *Writer) Written() int64 { return w.written.Load() }

// Pending returns the number of buffered traces.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Flush drains the buffer in batches until it is empty or a write fails.
// Traces from a failed write are put back at the front of the buffer.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushing.Lock()
	defer w.flushing.Unlock()

	for {
		batch := w.take(w.cfg.BatchSize)
		if len(batch) == 0 {
			return nil
		}
		for i, trace := range batch {
			if err := w.write(ctx, trace); err != nil {
				if wperr.IsInvalidInput(err) {
					slog.Warn("decision trace rejected by store",
						"trace_id", trace.ID,
						"error", err,
					)
					w.drop(1, "rejected")
					continue
				}
				w.requeue(batch[i:])
				return wperr.Wrap(err, wperr.CodeStoreAuthorityUnavailable, "flushing decision traces",
					wperr.Field("pending", w.Pending()))
			}
			w.written.Add(1)
		}
	}
}

// Run flushes on every interval tick and whenever a full batch is waiting.
// When ctx is cancelled it makes one last bounded flush and returns nil.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
			defer cancel()
			if err := w.Flush(final); err != nil {
				slog.Warn("final decision trace flush failed",
					"pending", w.Pending(),
					"error", err,
				)
			}
			return nil
		case <-ticker.C:
		case <-w.wake:
		}

		if err := w.Flush(ctx); err != nil {
			slog.Debug("decision trace flush deferred", "error", err)
		}
	}
}

func (w *Writer) write(ctx context.Context, trace *store.DecisionTrace) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()
	return w.store.AppendDecisionTrace(ctx, trace)
}

func (w *Writer) take(n int) []*store.DecisionTrace {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > w.size {
		n = w.size
	}
	out := make([]*store.DecisionTrace, n)
	for i := range n {
		out[i] = w.ring[w.head]
		w.ring[w.head] = nil
		w.head = (w.head + 1) % len(w.ring)
	}
	w.size -= n
	return out
}

// requeue puts traces back ahead of anything recorded since they were taken.
// They are the oldest data, so when there is no room they are the ones dropped.
func (w *Writer) requeue(traces []*store.DecisionTrace) {
	w.mu.Lock()
	dropped := 0
	for i := len(traces) - 1; i >= 0; i-- {
		if w.size == len(w.ring) {
			dropped += i + 1
			break
		}
		w.head = (w.head - 1 + len(w.ring)) % len(w.ring)
		w.ring[w.head] = traces[i]
		w.size++
	}
	w.mu.Unlock()

	if dropped > 0 {
		w.drop(dropped, "buffer full on requeue")
	}
}

func (w *Writer) drop(n int, reason string) {
	total := w.dropped.Add(int64(n))
	slog.Warn("decision traces dropped",
		"count", n,
		"reason", reason,
		"dropped_total", total,
	)
	if w.onDrop != nil {
		w.onDrop(n)
	}
}
