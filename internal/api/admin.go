package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/models"
)

// Mint issues new tokens to an account
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	operator, _ := accountFrom(r.Context())
	var req struct {
		Account string       `json:"account"`
		Token   models.Token `json:"token"`
		Amount  uint64       `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !req.Token.Valid() {
		writeError(w, http.StatusBadRequest, "token must be GRID or WATT")
		return
	}
	if err := h.Exchange.Ledger().Mint(req.Token, req.Account, req.Amount); err != nil {
		h.writeErr(w, err)
		return
	}
	h.Log.Info("tokens minted",
		zap.String("operator", operator),
		zap.String("account", req.Account),
		zap.String("token", string(req.Token)),
		zap.Uint64("amount", req.Amount))
	if !h.persistBalances(w, r, req.Account) {
		return
	}
	h.respondBalance(w, req.Account)
}

// UpdateMarket replaces the market configuration
func (h *Handler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	operator, _ := accountFrom(r.Context())
	cfg := h.Exchange.Config()
	if !decode(w, r, &cfg) {
		return
	}
	if err := h.Exchange.UpdateConfig(operator, cfg); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Config())
}

// SetMarketOpen opens or closes trading for non-operators
func (h *Handler) SetMarketOpen(w http.ResponseWriter, r *http.Request) {
	operator, _ := accountFrom(r.Context())
	var req struct {
		Open bool `json:"open"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Exchange.SetMarketOpen(operator, req.Open); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Config())
}

// SetParticipantActive suspends or reinstates a participant
func (h *Handler) SetParticipantActive(w http.ResponseWriter, r *http.Request) {
	operator, _ := accountFrom(r.Context())
	account := chi.URLParam(r, "account")
	var req struct {
		Active bool `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Exchange.SetParticipantActive(operator, account, req.Active); err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.Store.SetParticipantActive(r.Context(), account, req.Active); err != nil {
		h.Log.Error("failed to record participant state", zap.String("account", account), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to record participant state")
		return
	}
	p, _ := h.Exchange.Participant(account)
	writeJSON(w, http.StatusOK, p)
}

// SweepExpired removes expired orders from the book immediately
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	expired := h.Exchange.SweepExpired()
	for _, o := range expired {
		if err := h.Store.SaveOrder(r.Context(), o); err != nil {
			h.Log.Error("failed to record expiry", zap.String("order_id", o.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to record expired orders")
			return
		}
	}
	if len(expired) > 0 {
		h.notify()
	}
	if expired == nil {
		expired = []models.Order{}
	}
	writeJSON(w, http.StatusOK, expired)
}
