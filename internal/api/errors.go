package api

import (
	"errors"
	"net/http"

	"github.com/fastprodman/gameledger/internal/services/economy"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/scoring"
	"github.com/fastprodman/gameledger/internal/services/sessions"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// requestError is a client mistake detected by the HTTP layer itself.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func errBadRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: "invalid_request", message: msg}
}

var (
	errUnauthorized = &requestError{status: http.StatusUnauthorized, code: "unauthorized", message: "Authentication required"}
	errForbidden    = &requestError{status: http.StatusForbidden, code: "forbidden", message: "Admin role required"}
)

// errorMapping is checked in order; the first match wins. Messages are what
// the player sees, never the underlying error text.
var errorMapping = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{ledger.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance", "Not enough balance"},
	{ledger.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict", "Idempotency key already used for a different transaction"},
	{ledger.ErrLockTimeout, http.StatusServiceUnavailable, "busy", "Balance is busy, please retry"},
	{ledger.ErrUserNotFound, http.StatusNotFound, "user_not_found", "User not found"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "Invalid amount"},
	{ledger.ErrUnknownKind, http.StatusBadRequest, "unknown_kind", "Unknown transaction kind"},
	{economy.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "Amount must be positive"},
	{economy.ErrNotAdmin, http.StatusForbidden, "forbidden", "Admin role required"},
	{economy.ErrNoUpstream, http.StatusConflict, "sync_unavailable", "External balance sync is not configured"},
	{sessions.ErrInvalidSession, http.StatusForbidden, "invalid_session", "Invalid game session"},
	{sessions.ErrSessionAlreadyUsed, http.StatusConflict, "session_already_used", "Game session already used"},
	{sessions.ErrSessionExpired, http.StatusGone, "session_expired", "Session expired, please restart the game"},
	{sessions.ErrImplausibleScore, http.StatusUnprocessableEntity, "implausible_score", "Score rejected"},
	{sessions.ErrUnknownGame, http.StatusBadRequest, "unknown_game", "Unknown game type"},
	{scoring.ErrSessionRequired, http.StatusBadRequest, "session_required", "Ranked submissions need a game session"},
	{scoring.ErrInvalidScore, http.StatusBadRequest, "invalid_score", "Invalid score"},
}

func (h *HandlerProvider) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError maps err onto a stable code. Unknown errors are logged
// and reported as internal_error.
func (h *HandlerProvider) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var re *requestError
	if errors.As(err, &re) {
		h.writeError(w, re.status, re.code, re.message)
		return
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			h.logger.Info("request rejected",
				"path", r.URL.Path,
				"code", m.code,
				"user_id", caller(r).UserID,
			)
			h.writeError(w, m.status, m.code, m.message)
			return
		}
	}

	h.logger.Error("request failed",
		"path", r.URL.Path,
		"user_id", caller(r).UserID,
		"error", err,
	)
	h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
}
