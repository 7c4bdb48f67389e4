// Package security carries the acting player and the client metadata that
// every balance mutation and audit record is stamped with.
package security

import (
	"context"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Context identifies who is acting and from where.
type Context struct {
	UserID            uint64
	Role              string
	ClientIP          string
	UserAgent         string
	DeviceFingerprint string
}

const RoleAdmin = "admin"

// IsAdmin reports whether the caller holds the admin role.
func (c Context) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// ForUser returns a copy of c acting on behalf of userID. Admin and
// settlement flows use it to keep the operator's client metadata on entries
// written for other players.
func (c Context) ForUser(userID uint64) Context {
	c.UserID = userID
	return c
}

type ctxKey struct{}

// WithContext stores sc in ctx.
func WithContext(ctx context.Context, sc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, sc)
}

// FromContext returns the security context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	sc, ok := ctx.Value(ctxKey{}).(Context)
	return sc, ok
}

// DeviceHeader is the request header the mobile client fills with its
// device fingerprint.
const DeviceHeader = "X-Device-Fingerprint"

// FromRequest extracts client metadata from r. The address is RemoteAddr,
// which a real-ip middleware may have rewritten for trusted proxies.
func FromRequest(r *http.Request) Context {
	ip := r.RemoteAddr
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}

	return Context{
		ClientIP:          ip,
		UserAgent:         truncate(r.UserAgent(), 512),
		DeviceFingerprint: truncate(strings.TrimSpace(r.Header.Get(DeviceHeader)), 256),
	}
}

// truncate drops invalid UTF-8 and cuts s to at most n bytes on a rune
// boundary. The result is stored in TEXT columns.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
