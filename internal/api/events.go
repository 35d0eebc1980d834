package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// parseLimit reads the limit query parameter, 0 when absent. The
// journal clamps the effective value.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// handleListEvents returns the newest lifecycle journal entries across
// all devices.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "journal is not configured")
		return
	}

	entries, err := s.journal.Recent(r.Context(), parseLimit(r))
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to query journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// handleDeviceEvents returns the journal page for one device. The
// device does not need to be currently registered; history outlives
// unregistration.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "journal is not configured")
		return
	}

	entries, err := s.journal.History(r.Context(), chi.URLParam(r, "id"), parseLimit(r))
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to query journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}
