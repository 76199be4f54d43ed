package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fund-tracker/internal/service"
)

// handleCreateFund handles POST /api/v1/funds.
func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Firm string `json:"firm,omitempty"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	fund, err := s.registry.CreateFund(r.Context(), &service.CreateFundInput{
		Name: req.Name,
		Firm: req.Firm,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, fund)
}

// handleListFunds handles GET /api/v1/funds.
func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := s.registry.ListFunds(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"funds": funds,
		"count": len(funds),
	})
}

// handleGetFund handles GET /api/v1/funds/:id.
func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	fund, err := s.registry.GetFund(r.Context(), fundID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, fund)
}

// handleAddWallet handles POST /api/v1/funds/:id/wallets.
func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	var req struct {
		Address string `json:"address"`
		Label   string `json:"label,omitempty"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	wallet, err := s.registry.AddWallet(r.Context(), fundID, &service.AddWalletInput{
		Address: req.Address,
		Label:   req.Label,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, wallet)
}

// handleRemoveWallet handles DELETE /api/v1/funds/:id/wallets/:address.
func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fundID := vars["id"]
	address := vars["address"]

	if fundID == "" || address == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID and wallet address required", nil)
		return
	}

	if err := s.registry.RemoveWallet(r.Context(), fundID, address); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
