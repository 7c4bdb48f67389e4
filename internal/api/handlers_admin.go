package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fastprodman/gameledger/internal/services/economy"
)

type settleRequest struct {
	Period     string `json:"period" validate:"required,oneof=daily weekly monthly"`
	PeriodDate string `json:"periodDate" validate:"required,datetime=2006-01-02"`
	PrizePool  int64  `json:"prizePool" validate:"gt=0"`
}

type adjustmentRequest struct {
	Amount int64  `json:"amount" validate:"ne=0"`
	Reason string `json:"reason" validate:"required,max=256"`
}

type refundRequest struct {
	CompetitionID string `json:"competitionId" validate:"required,max=128"`
	EntryFee      int64  `json:"entryFee" validate:"gt=0"`
}

type settleResponse struct {
	economy.Settlement
	Failed int `json:"failed"`
}

// GET /v1/admin/users/{userId}/reconcile
func (h *HandlerProvider) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		h.writeServiceError(w, r, errBadRequest(err.Error()))
		return
	}

	rep, err := h.ledger.Reconcile(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rep)
}

// POST /v1/admin/users/{userId}/adjustments
//
// An Idempotency-Key header makes operator retries safe across days.
func (h *HandlerProvider) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		h.writeServiceError(w, r, errBadRequest(err.Error()))
		return
	}

	var req adjustmentRequest

	err = h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > 128 {
		h.writeServiceError(w, r, errBadRequest("Idempotency-Key too long"))
		return
	}

	res, err := h.economy.AdminAdjust(r.Context(), caller(r), userID, req.Amount, req.Reason, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeMutation(w, res)
}

// POST /v1/admin/users/{userId}/refunds
func (h *HandlerProvider) RefundEntry(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDFromPath(r)
	if err != nil {
		h.writeServiceError(w, r, errBadRequest(err.Error()))
		return
	}

	var req refundRequest

	err = h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.economy.RefundEntry(r.Context(), caller(r).ForUser(userID), req.CompetitionID, req.EntryFee)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeMutation(w, res)
}

// POST /v1/admin/competitions/{competitionId}/settle
//
// Partial failures still answer 200 with the per-rank errors in the body;
// the call can be repeated and only the failed ranks are paid again.
func (h *HandlerProvider) Settle(w http.ResponseWriter, r *http.Request) {
	competitionID, err := pathParam(r, "competitionId")
	if err != nil {
		h.writeServiceError(w, r, errBadRequest(err.Error()))
		return
	}

	var req settleRequest

	err = h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	day, _ := time.Parse(time.DateOnly, req.PeriodDate)

	out, err := h.economy.Settle(r.Context(), economy.SettleParams{
		CompetitionID: competitionID,
		Period:        req.Period,
		PeriodDate:    day,
		PrizePool:     req.PrizePool,
		Security:      caller(r),
	})
	if err != nil && out.CompetitionID == "" {
		h.writeServiceError(w, r, err)
		return
	}

	resp := settleResponse{Settlement: out}
	for _, p := range out.Payouts {
		if p.Error != "" {
			resp.Failed++
		}
	}

	if err != nil {
		h.logger.Error("settlement incomplete",
			"competition_id", competitionID,
			"failed", resp.Failed,
			"error", err,
		)
	}

	h.writeJSON(w, http.StatusOK, resp)
}
