package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/chain"
	"github.com/xtrntr/wattex/internal/compliance"
	"github.com/xtrntr/wattex/internal/models"
)

// GetBalances returns the caller's token balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	acc, found := h.Exchange.Ledger().Account(account)
	if !found {
		acc = models.Account{ID: account}
	}
	writeJSON(w, http.StatusOK, acc)
}

// Transfer moves tokens from the caller to another account
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		To     string       `json:"to"`
		Token  models.Token `json:"token"`
		Amount uint64       `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !req.Token.Valid() {
		writeError(w, http.StatusBadRequest, "token must be GRID or WATT")
		return
	}
	if err := h.Exchange.Ledger().Transfer(req.Token, account, req.To, req.Amount); err != nil {
		h.writeErr(w, err)
		return
	}
	if !h.persistBalances(w, r, account, req.To) {
		return
	}
	h.respondBalance(w, account)
}

// Stake locks GRID for governance
func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	h.stake(w, r, true)
}

// Unstake releases staked GRID
func (h *Handler) Unstake(w http.ResponseWriter, r *http.Request) {
	h.stake(w, r, false)
}

func (h *Handler) stake(w http.ResponseWriter, r *http.Request, lock bool) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	l := h.Exchange.Ledger()
	var err error
	from, to := account, "staking"
	if lock {
		err = l.Stake(account, req.Amount)
	} else {
		err = l.Unstake(account, req.Amount)
		from, to = "staking", account
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if h.Chain != nil {
		if _, err := h.Chain.Submit(chain.Transaction{Type: chain.TxStaking, From: from, To: to, Amount: req.Amount}); err != nil {
			h.Log.Warn("failed to log staking transaction", zap.String("account", account), zap.Error(err))
		}
	}
	if !h.persistBalances(w, r, account) {
		return
	}
	h.respondBalance(w, account)
}

func (h *Handler) persistBalances(w http.ResponseWriter, r *http.Request, accounts ...string) bool {
	ids := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		ids[a] = struct{}{}
	}
	if err := h.Store.SaveAccounts(r.Context(), h.snapshot(ids)); err != nil {
		h.Log.Error("failed to save balances", zap.Strings("accounts", accounts), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to record balances")
		return false
	}
	return true
}

func (h *Handler) respondBalance(w http.ResponseWriter, account string) {
	acc, _ := h.Exchange.Ledger().Account(account)
	writeJSON(w, http.StatusOK, acc)
}

// GetReport returns the caller's trading activity over [from, to).
// Both bounds are RFC 3339 and optional.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	from, ok := parseTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseTime(w, r, "to")
	if !ok {
		return
	}

	report := compliance.Generate(h.Exchange.TradesFor(account), from, to)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":     from,
		"to":       to,
		"activity": report.For(account),
	})
}

func parseTime(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+key+" timestamp")
		return time.Time{}, false
	}
	return t, true
}
