package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
)

// CreditHandler handles the citizen's credit ledger and reward catalog.
type CreditHandler struct {
	ledger *services.CreditLedger
	logger *zap.SugaredLogger
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(ledger *services.CreditLedger, logger *zap.SugaredLogger) *CreditHandler {
	return &CreditHandler{ledger: ledger, logger: logger}
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
}

// OpenAccount handles POST /api/v1/credits/account
func (h *CreditHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.OpenAccount(r.Context(), principal(r).Subject)
	if err != nil {
		writeServiceError(w, h.logger, "open account", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"account": acct,
		"message": "Welcome! Your signup bonus has been credited.",
	})
}

// Summary handles GET /api/v1/credits?window=N
func (h *CreditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Summary(r.Context(), principal(r).Subject, queryInt(r, "window", services.DefaultTransactionWindow))
	if err != nil {
		writeServiceError(w, h.logger, "credit summary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Transactions handles GET /api/v1/credits/transactions?limit=N
func (h *CreditHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledger.Transactions(r.Context(), principal(r).Subject, queryInt(r, "limit", services.DefaultTransactionWindow))
	if err != nil {
		writeServiceError(w, h.logger, "credit transactions", err)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

// Redeem handles POST /api/v1/credits/redeem
func (h *CreditHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rewardID := strings.TrimSpace(req.RewardID)
	if rewardID == "" {
		respondError(w, http.StatusBadRequest, "reward_id is required")
		return
	}

	var result *models.RedemptionResult
	err := withRetry(func() error {
		var err error
		result, err = h.ledger.Redeem(r.Context(), principal(r).Subject, rewardID)
		return err
	})
	if err != nil {
		writeServiceError(w, h.logger, "redeem", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Rewards handles GET /api/v1/rewards
func (h *CreditHandler) Rewards(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.ledger.Catalog().Rewards())
}

// Leaderboard handles GET /api/v1/leaderboard
func (h *CreditHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Leaderboard(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "leaderboard", err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
