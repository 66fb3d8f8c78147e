package api

import (
	"encoding/json"
	"net/http"
)

// GET /logging
func (r *Router) handleGetLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeAPIError(w, errNoLogging)
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// loggingUpdate is the runtime-adjustable subset of the logging config.
// File output fields are decoded only so they can be refused; the log file
// is set at startup through the config file or BSM_LOG_FILE.
type loggingUpdate struct {
	Level          string          `json:"level"`
	Format         string          `json:"format"`
	FilePath       json.RawMessage `json:"file_path"`
	FileMaxSizeMB  json.RawMessage `json:"file_max_size_mb"`
	FileMaxFiles   json.RawMessage `json:"file_max_files"`
	FileMaxAgeDays json.RawMessage `json:"file_max_age_days"`
}

func (u loggingUpdate) touchesFile() bool {
	return u.FilePath != nil || u.FileMaxSizeMB != nil || u.FileMaxFiles != nil || u.FileMaxAgeDays != nil
}

// handleUpdateLogging changes the log level and format. Omitted fields keep
// their current values.
// PUT /logging
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeAPIError(w, errNoLogging)
		return
	}

	var patch loggingUpdate
	if err := decodeBody(w, req, &patch); err != nil {
		writeAPIError(w, errInvalidBody)
		return
	}
	if patch.touchesFile() {
		writeAPIError(w, errLogConfig.withMessage("Log file settings can only be changed in the configuration file or environment."))
		return
	}

	cfg := r.logManager.Config()
	if patch.Level != "" {
		cfg.Level = patch.Level
	}
	if patch.Format != "" {
		cfg.Format = patch.Format
	}

	if err := r.logManager.Reconfigure(cfg); err != nil {
		writeAPIError(w, errLogConfig.withMessage(err.Error()))
		return
	}
	r.logger.Info("logging reconfigured", "config", cfg.String())
	writeJSON(w, http.StatusOK, r.logManager.Config())
}
