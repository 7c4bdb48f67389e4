package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of the player access token. The subject is the
// numeric user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errBadSubject = errors.New("subject is not a user id")

// parseToken verifies an HS256 token and returns the user id and role it
// carries.
func parseToken(raw string, secret []byte) (uint64, string, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims,
		func(_ *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, "", err
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, "", errBadSubject
	}

	return id, claims.Role, nil
}

// Authenticate requires a valid bearer token and stores the caller's
// security context on the request.
func (h *HandlerProvider) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			h.writeServiceError(w, r, errUnauthorized)
			return
		}

		userID, role, err := parseToken(strings.TrimSpace(raw), h.secret)
		if err != nil {
			h.logger.Info("rejected access token", "path", r.URL.Path, "error", err)
			h.writeServiceError(w, r, errUnauthorized)
			return
		}

		sc := security.FromRequest(r)
		sc.UserID = userID
		sc.Role = role

		next.ServeHTTP(w, r.WithContext(security.WithContext(r.Context(), sc)))
	})
}

// RequireAdmin must run after Authenticate.
func (h *HandlerProvider) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).IsAdmin() {
			h.writeServiceError(w, r, errForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimit charges one request against the caller's budget for endpoint.
// It must run after Authenticate.
func (h *HandlerProvider) RateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := caller(r)

			d := h.limiter.CheckAndConsume(r.Context(), sc.UserID, endpoint)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				secs := int(d.RetryAfter.Seconds())

				h.audit.Record(r.Context(), audit.Event{
					Type:     audit.EventRateLimited,
					Severity: audit.SeverityInfo,
					Details: audit.Details{
						"endpoint":    endpoint,
						"limit":       d.Limit,
						"retry_after": secs,
					},
					Security: sc,
				})

				w.Header().Set("Retry-After", strconv.Itoa(secs))
				h.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, retry in "+strconv.Itoa(secs)+"s")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
