package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/scoring"
	"github.com/fastprodman/gameledger/internal/services/sessions"
)

type balanceResponse struct {
	UserID  uint64 `json:"userId"`
	Balance int64  `json:"balance"`
}

type entryView struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	ReferenceID   string    `json:"referenceId,omitempty"`
	ReferenceType string    `json:"referenceType,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type createSessionRequest struct {
	GameType      string `json:"gameType" validate:"required,max=64"`
	CompetitionID string `json:"competitionId" validate:"omitempty,max=128"`
	Period        string `json:"period" validate:"omitempty,oneof=daily weekly monthly"`
	PeriodDate    string `json:"periodDate" validate:"omitempty,datetime=2006-01-02"`
}

type submitScoreRequest struct {
	SessionToken  string `json:"sessionToken" validate:"omitempty,hexadecimal,len=64"`
	Score         *int64 `json:"score" validate:"required"`
	Ranked        bool   `json:"ranked"`
	GameType      string `json:"gameType" validate:"omitempty,max=64"`
	CompetitionID string `json:"competitionId" validate:"omitempty,max=128"`
	Period        string `json:"period" validate:"omitempty,oneof=daily weekly monthly"`
}

type enterCompetitionRequest struct {
	EntryFee int64 `json:"entryFee" validate:"gt=0"`
}

// GET /v1/balance
func (h *HandlerProvider) GetBalance(w http.ResponseWriter, r *http.Request) {
	sc := caller(r)

	bal, err := h.ledger.Balance(r.Context(), sc.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: sc.UserID, Balance: bal})
}

// GET /v1/balance/history?limit=N
func (h *HandlerProvider) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeServiceError(w, r, errBadRequest("limit must be a positive integer"))
			return
		}

		limit = n
	}

	list, err := h.ledger.History(r.Context(), caller(r).UserID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]entryView, 0, len(list))
	for _, e := range list {
		out = append(out, entryView{
			ID:            e.ID,
			Kind:          e.Kind,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			ReferenceID:   e.ReferenceID,
			ReferenceType: e.ReferenceType,
			CreatedAt:     e.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, out)
}

// POST /v1/balance/sync
func (h *HandlerProvider) SyncBalance(w http.ResponseWriter, r *http.Request) {
	res, err := h.economy.SyncExternal(r.Context(), caller(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// POST /v1/sessions
func (h *HandlerProvider) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest

	err := h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	p := sessions.CreateParams{
		GameType:      req.GameType,
		CompetitionID: req.CompetitionID,
		Period:        req.Period,
		Security:      caller(r),
	}

	if req.PeriodDate != "" {
		// Format already checked by the validate tag.
		p.PeriodDate, _ = time.Parse(time.DateOnly, req.PeriodDate)
	}

	issued, err := h.sessions.Create(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, issued)
}

// POST /v1/scores
func (h *HandlerProvider) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req submitScoreRequest

	err := h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out, err := h.scoring.Submit(r.Context(), scoring.Submission{
		SessionToken:  req.SessionToken,
		Score:         *req.Score,
		Ranked:        req.Ranked,
		GameType:      req.GameType,
		CompetitionID: req.CompetitionID,
		Period:        req.Period,
		Security:      caller(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, out)
}

// POST /v1/competitions/{competitionId}/entries
func (h *HandlerProvider) EnterCompetition(w http.ResponseWriter, r *http.Request) {
	competitionID, err := pathParam(r, "competitionId")
	if err != nil {
		h.writeServiceError(w, r, errBadRequest(err.Error()))
		return
	}

	var req enterCompetitionRequest

	err = h.decodeJSON(w, r, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.economy.EnterCompetition(r.Context(), caller(r), competitionID, req.EntryFee)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeMutation(w, res)
}

// POST /v1/bonus/daily
func (h *HandlerProvider) ClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	res, err := h.economy.ClaimDailyBonus(r.Context(), caller(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeMutation(w, res)
}

// writeMutation answers 201 for a new entry and 200 for a replay of an
// earlier one.
func (h *HandlerProvider) writeMutation(w http.ResponseWriter, res ledger.Result) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}

	h.writeJSON(w, status, res)
}
