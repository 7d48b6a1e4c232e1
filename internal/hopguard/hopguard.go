// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

// Package hopguard bounds how many times one logical request may be
// forwarded between cooperating gateways.
//
// Every inbound request carries a hop counter in the X-Hop-Count header
// (absent means 0). A counter above the configured maximum is rejected as a
// loop; otherwise the counter is incremented and stored in the request
// context, and Outbound stamps it on every forwarding call.
package hopguard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Header carries the hop counter.
const Header = "X-Hop-Count"

// DefaultMaxHops is the highest counter accepted when none is configured.
const DefaultMaxHops = 3

// Guard admits or rejects inbound hop counters.
type Guard struct {
	max int
}

// New creates a Guard that accepts counters up to and including maxHops.
func New(maxHops int) (*Guard, error) {
	if maxHops < 0 {
		return nil, wperr.Errorf(wperr.CodeConfigValidateInvalidValue,
			"hopguard max hops must not be negative (got %d)", maxHops)
	}
	return &Guard{max: maxHops}, nil
}

// Max returns the configured bound.
func (g *Guard) Max() int {
	return g.max
}

// Admit parses the inbound header value and returns the counter to use for
// outbound calls. A counter above the maximum yields a loop_detected error;
// a malformed counter yields an invalid-request error.
func (g *Guard) Admit(value string) (int, error) {
	hops := 0
	if v := strings.TrimSpace(value); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, wperr.New(wperr.CodeServerRequestInvalid, "invalid "+Header+" header",
				wperr.Field("value", truncate(v)))
		}
		hops = n
	}
	if hops > g.max {
		return 0, wperr.New(wperr.CodeServerLoopDetected, "request exceeded hop limit",
			wperr.Field("hops", hops), wperr.Field("max_hops", g.max))
	}
	return hops + 1, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

type hopsKey struct{}

// WithHops returns a context carrying the outbound hop counter.
func WithHops(ctx context.Context, hops int) context.Context {
	return context.WithValue(ctx, hopsKey{}, hops)
}

// FromContext returns the outbound hop counter stored by WithHops.
func FromContext(ctx context.Context) (int, bool) {
	hops, ok := ctx.Value(hopsKey{}).(int)
	return hops, ok
}

// Outbound is an SDK middleware that stamps the context's hop counter on
// outgoing provider requests. Requests without a counter are left untouched.
// Its signature matches option.Middleware of the OpenAI and Anthropic SDKs.
func Outbound(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	if hops, ok := FromContext(req.Context()); ok {
		req.Header.Set(Header, strconv.Itoa(hops))
	}
	return next(req)
}

// Transport wraps an http.RoundTripper with the same stamping as Outbound,
// for clients that do not accept SDK middleware.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if hops, ok := FromContext(req.Context()); ok {
		req = req.Clone(req.Context())
		req.Header.Set(Header, strconv.Itoa(hops))
	}
	return base.RoundTrip(req)
}
