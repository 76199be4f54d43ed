package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleGetSnapshot handles GET /api/v1/funds/:id/snapshot.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	snapshot, err := s.portfolio.GetSnapshot(r.Context(), fundID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetActivity handles GET /api/v1/funds/:id/activity.
// The optional limit query parameter caps the number of events; the
// service clamps it to its own maximum.
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	feed, err := s.activity.GetActivity(r.Context(), fundID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, feed)
}

// handleGetGraph handles GET /api/v1/funds/:id/graph.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	graph, err := s.activity.GetGraph(r.Context(), fundID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, graph)
}

// handleGetPnL handles GET /api/v1/funds/:id/pnl.
func (s *Server) handleGetPnL(w http.ResponseWriter, r *http.Request) {
	fundID := mux.Vars(r)["id"]
	if fundID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Fund ID required", nil)
		return
	}

	report, err := s.pnl.GetPnL(r.Context(), fundID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleGetLeaderboard handles GET /api/v1/leaderboard.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.leaderboard.GetLeaderboard(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, board)
}
