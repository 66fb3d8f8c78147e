package api

import (
	"net/http"
	"strconv"
)

const defaultHistoryLimit = 20

// handleScanHistory lists finished scans, newest first.
// GET /getScanHistory?limit=N
func (r *Router) handleScanHistory(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		writeAPIError(w, errHistory)
		return
	}

	limit := defaultHistoryLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeAPIError(w, errLimit)
			return
		}
		limit = n
	}

	entries, err := r.history.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing scan history", "error", err)
		writeAPIError(w, errHistory)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": entries})
}
