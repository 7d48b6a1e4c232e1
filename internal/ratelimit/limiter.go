// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package ratelimit provides per-caller token-bucket admission control.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Config configures per-caller limiting.
type Config struct {
	// RequestsPerMinute is the sustained rate per caller. Zero disables limiting.
	RequestsPerMinute int
	// Burst is the bucket size per caller.
	Burst int
	// MaxCallers caps the number of buckets kept in memory. When the map
	// exceeds it, the least recently seen callers are evicted on cleanup.
	// Default: 10000.
	MaxCallers int
	// IdleAfter is how long an unused bucket is kept. Default: 10m.
	IdleAfter time.Duration
	// CleanupInterval is the period of Run. Default: 5m.
	CleanupInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxCallers == 0 {
		c.MaxCallers = 10000
	}
	if c.IdleAfter == 0 {
		c.IdleAfter = 10 * time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RequestsPerMinute < 0 {
		return wperr.Errorf(wperr.CodeServerConfigInvalid,
			"rate limit requests per minute must not be negative (got %d)", c.RequestsPerMinute)
	}
	if c.RequestsPerMinute > 0 && c.Burst <= 0 {
		return wperr.Errorf(wperr.CodeServerConfigInvalid,
			"rate limit burst must be positive when requests per minute is set (got burst=%d, rpm=%d)",
			c.Burst, c.RequestsPerMinute)
	}
	if c.MaxCallers < 0 {
		return wperr.Errorf(wperr.CodeServerConfigInvalid,
			"rate limit max callers must not be negative (got %d)", c.MaxCallers)
	}
	return nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds renders RetryAfter for the Retry-After header, rounded
// up and never below one second.
func (d Decision) RetryAfterSeconds() string {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per caller key. Buckets are ephemeral and
// start full.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	visitors map[string]*visitor
	nowFunc  func() time.Time // for testing
}

// New creates a Limiter. A zero RequestsPerMinute yields a Limiter that
// admits everything.
func New(cfg Config) (*Limiter, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		nowFunc:  time.Now,
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (l *Limiter) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	l.nowFunc = fn
	l.mu.Unlock()
}

// Enabled reports whether requests are being limited.
func (l *Limiter) Enabled() bool {
	return l != nil && l.cfg.RequestsPerMinute > 0
}

// Allow takes one token from key's bucket. A rejected request does not
// consume a token.
func (l *Limiter) Allow(key string) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true}
	}
	if key == "" {
		key = "ip:unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	v, ok := l.visitors[key]
	if !ok {
		every := time.Minute / time.Duration(l.cfg.RequestsPerMinute)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), l.cfg.Burst)}
		// Anchor the bucket at the injected clock so it starts full.
		v.limiter.SetBurstAt(now, l.cfg.Burst)
		l.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Minute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Cleanup removes idle buckets and enforces MaxCallers. It returns the
// number of evicted callers.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	evicted := 0

	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.visitors))
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.cfg.IdleAfter {
			delete(l.visitors, key)
			evicted++
		} else {
			entries = append(entries, entry{key: key, lastSeen: v.lastSeen})
		}
	}

	if l.cfg.MaxCallers > 0 && len(entries) > l.cfg.MaxCallers {
		slices.SortFunc(entries, func(a, b entry) int {
			return a.lastSeen.Compare(b.lastSeen)
		})
		toEvict := len(entries) - l.cfg.MaxCallers
		for i := 0; i < toEvict; i++ {
			delete(l.visitors, entries[i].key)
		}
		evicted += toEvict
		slog.Warn("rate limiter caller cap enforced",
			"evicted", toEvict, "max_callers", l.cfg.MaxCallers, "remaining", len(l.visitors))
	}
	return evicted
}

// Run cleans up every CleanupInterval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	if !l.Enabled() {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}

// CallerKey identifies the caller of r: the value of header when present,
// otherwise the client IP without port.
func CallerKey(r *http.Request, header string) string {
	if header != "" {
		if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
			return "caller:" + id
		}
	}
	return "ip:" + ClientIP(r.RemoteAddr)
}

// ClientIP strips the port from a RemoteAddr.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// RemoteAddr might not have a port (e.g., in tests)
		return remoteAddr
	}
	return host
}

// HashKey returns the first 8 hex chars of SHA-256(key) for log privacy.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:4])
}
