// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// parseTrustedProxies parses CIDR strings, skipping blanks.
func parseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, wperr.Wrapf(err, wperr.CodeServerConfigInvalid, "invalid trusted proxy CIDR %q", cidr)
		}
		nets = append(nets, ipNet)
	}
	if len(nets) == 0 {
		return nil, wperr.New(wperr.CodeServerConfigInvalid, "trusted_proxies must contain at least one valid CIDR range")
	}
	return nets, nil
}

func isTrustedProxy(ip net.IP, trusted []*net.IPNet) bool {
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// forwardedClient returns the client address a trusted proxy reported,
// preferring the leftmost X-Forwarded-For entry over X-Real-IP.
func forwardedClient(h http.Header) (string, bool) {
	candidate := ""
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		candidate, _, _ = strings.Cut(xff, ",")
	} else {
		candidate = h.Get("X-Real-IP")
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || net.ParseIP(candidate) == nil {
		return "", false
	}
	return candidate, true
}

// trustedProxyRealIP rewrites r.RemoteAddr from forwarding headers only
// when the connecting peer is a trusted proxy. Rate limiting keys on the
// result, so untrusted peers cannot pick their own bucket.
func trustedProxyRealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			connectingIP, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				connectingIP = r.RemoteAddr
			}

			ip := net.ParseIP(connectingIP)
			if ip == nil || !isTrustedProxy(ip, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			if client, ok := forwardedClient(r.Header); ok {
				r.RemoteAddr = net.JoinHostPort(client, "0")
			} else {
				slog.Debug("trusted proxy sent no usable client address", "connecting_ip", connectingIP)
			}
			next.ServeHTTP(w, r)
		})
	}
}
