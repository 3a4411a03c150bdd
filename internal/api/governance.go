package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) governanceEnabled(w http.ResponseWriter) bool {
	if h.Governance == nil {
		writeError(w, http.StatusNotImplemented, "Governance is not enabled")
		return false
	}
	return true
}

// ListProposals returns all proposals, newest first
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	if !h.governanceEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Governance.Proposals())
}

// GetProposal returns a single proposal with its votes
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	if !h.governanceEnabled(w) {
		return
	}
	p, ok := h.Governance.Proposal(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProposal opens a new proposal authored by the caller
func (h *Handler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	if !h.governanceEnabled(w) {
		return
	}
	account, _ := accountFrom(r.Context())
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Governance.CreateProposal(account, req.Title, req.Description)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Vote casts the caller's GRID weight on a proposal
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	if !h.governanceEnabled(w) {
		return
	}
	account, _ := accountFrom(r.Context())
	var req struct {
		Support bool `json:"support"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Governance.Vote(chi.URLParam(r, "id"), account, req.Support)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// FinalizeProposal closes a proposal whose voting period has ended
func (h *Handler) FinalizeProposal(w http.ResponseWriter, r *http.Request) {
	if !h.governanceEnabled(w) {
		return
	}
	p, err := h.Governance.Finalize(chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBlocks returns the sealed block log
func (h *Handler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	if h.Chain == nil {
		writeError(w, http.StatusNotImplemented, "Block log is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Chain.Blocks())
}

// VerifyChain checks the hash links of the block log
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	if h.Chain == nil {
		writeError(w, http.StatusNotImplemented, "Block log is not enabled")
		return
	}
	if err := h.Chain.Verify(); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "blocks": len(h.Chain.Blocks())})
}
