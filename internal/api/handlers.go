package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/version"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// apiError is a business-rule rejection with a stable numeric code and
// category. Most map to 4xx; device-not-connected is a soft failure and
// answers 200.
type apiError struct {
	status    int
	errorCode int
	code      string
	message   string
}

// withMessage returns a copy of e carrying msg.
func (e apiError) withMessage(msg string) apiError {
	e.message = msg
	return e
}

var (
	errInvalidBody = apiError{http.StatusBadRequest, 1000, "INVALID_REQUEST_BODY", "Invalid request body."}
	errScanRunning = apiError{http.StatusConflict, 1001, "SCAN_IN_PROGRESS", "Scan already in progress"}
	errBodyPart    = apiError{http.StatusBadRequest, 1002, "INVALID_BODY_PART", "Invalid or missing bodyPart."}
	errSide        = apiError{http.StatusBadRequest, 1003, "INVALID_SIDE", "Invalid side. Must be LEFT or RIGHT."}
	errFileFormat  = apiError{http.StatusBadRequest, 1004, "INVALID_FILE_FORMAT", "Invalid or missing fileFormat."}
	errLimit       = apiError{http.StatusBadRequest, 1005, "INVALID_LIMIT", "limit must be a positive integer."}
	errLogConfig   = apiError{http.StatusBadRequest, 1006, "INVALID_LOGGING_CONFIG", "Invalid logging configuration."}
	errNoDevice    = apiError{http.StatusOK, 2001, "DEVICE_NOT_CONNECTED", "Device is not connected."}
	errNotReady    = apiError{http.StatusBadRequest, 3001, "SCAN_NOT_READY", "Scan not ready."}
	errNoResult    = apiError{http.StatusInternalServerError, 5001, "RESULT_MISSING", "Result file not found on server."}
	errReadResult  = apiError{http.StatusInternalServerError, 5002, "RESULT_UNREADABLE", "Result file could not be read."}
	errHistory     = apiError{http.StatusInternalServerError, 5003, "HISTORY_UNAVAILABLE", "Scan history is unavailable."}
	errNoLogging   = apiError{http.StatusServiceUnavailable, 5004, "LOGGING_UNAVAILABLE", "Logging manager not available."}
)

type errorResponse struct {
	Success   bool   `json:"success"`
	ErrorCode int    `json:"errorCode"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.status, errorResponse{
		Success:   false,
		ErrorCode: e.errorCode,
		Code:      e.code,
		Message:   e.message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// decodeBody decodes a JSON request body into dst. An empty body leaves dst
// at its zero value so field validation reports what is missing.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleHealth reports liveness plus a summary of the simulated device.
// GET /health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if r.machine != nil {
		resp["device"] = r.machine.DeviceStatus()
		resp["phase"] = r.machine.State().Phase
	}
	if r.results != nil {
		resp["availableFormats"] = r.results.Available()
	}
	writeJSON(w, http.StatusOK, resp)
}
