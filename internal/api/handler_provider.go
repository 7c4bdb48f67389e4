package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/repos/entries"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/economy"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/ratelimit"
	"github.com/fastprodman/gameledger/internal/services/scoring"
	"github.com/fastprodman/gameledger/internal/services/sessions"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Ledger interface {
	Balance(ctx context.Context, userID uint64) (int64, error)
	History(ctx context.Context, userID uint64, limit int) ([]entries.Entry, error)
	Reconcile(ctx context.Context, userID uint64) (ledger.Report, error)
}

type Sessions interface {
	Create(ctx context.Context, p sessions.CreateParams) (sessions.Issued, error)
}

type Scoring interface {
	Submit(ctx context.Context, sub scoring.Submission) (scoring.Outcome, error)
}

type Economy interface {
	EnterCompetition(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error)
	RefundEntry(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error)
	ClaimDailyBonus(ctx context.Context, sec security.Context) (ledger.Result, error)
	SyncExternal(ctx context.Context, sec security.Context) (ledger.Result, error)
	AdminAdjust(ctx context.Context, admin security.Context, userID uint64, amount int64, reason, key string) (ledger.Result, error)
	Settle(ctx context.Context, p economy.SettleParams) (economy.Settlement, error)
}

type Limiter interface {
	CheckAndConsume(ctx context.Context, userID uint64, endpoint string) ratelimit.Decision
}

// Deps is everything the HTTP layer calls into.
type Deps struct {
	Ledger   Ledger
	Sessions Sessions
	Scoring  Scoring
	Economy  Economy
	Limiter  Limiter
	Audit    audit.Recorder
	Logger   *slog.Logger

	JWTSecret      []byte
	AllowedOrigins []string

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// HandlerProvider exposes the HTTP handlers over Deps.
type HandlerProvider struct {
	ledger   Ledger
	sessions Sessions
	scoring  Scoring
	economy  Economy
	limiter  Limiter
	audit    audit.Recorder
	logger   *slog.Logger
	validate *validator.Validate
	secret   []byte
}

func NewHandler(d Deps) *HandlerProvider {
	return &HandlerProvider{
		ledger:   d.Ledger,
		sessions: d.Sessions,
		scoring:  d.Scoring,
		economy:  d.Economy,
		limiter:  d.Limiter,
		audit:    d.Audit,
		logger:   logging.OrDiscard(d.Logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		secret:   d.JWTSecret,
	}
}

// --- Helpers ---

const maxBodyBytes = 1 << 20

func (h *HandlerProvider) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON reads a size-capped body into dst, rejects unknown fields and
// runs the struct's validate tags.
func (h *HandlerProvider) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errBadRequest("empty body")
		}

		return errBadRequest("invalid JSON")
	}

	err = h.validate.Struct(dst)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errBadRequest(fmt.Sprintf("field %s failed on '%s'", verrs[0].Field(), verrs[0].Tag()))
		}

		return errBadRequest("invalid request")
	}

	return nil
}

// parseUserIDFromPath reads `{userId}` from routes like
// /v1/admin/users/{userId}/reconcile.
func parseUserIDFromPath(r *http.Request) (uint64, error) {
	idStr := chi.URLParam(r, "userId")
	if idStr == "" {
		return 0, fmt.Errorf("missing userId")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid userId: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid userId: must be positive")
	}

	return id, nil
}

func pathParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" || len(v) > 128 {
		return "", fmt.Errorf("invalid %s", name)
	}

	return v, nil
}

// caller returns the authenticated security context. Routes without the
// auth middleware never call it.
func caller(r *http.Request) security.Context {
	sc, _ := security.FromContext(r.Context())
	return sc
}
