package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sydlexius/bodyscanmock/internal/results"
	"github.com/sydlexius/bodyscanmock/internal/scan"
)

type scanResultRequest struct {
	FileFormat string `json:"fileFormat"`
}

// handleScanResult streams the sample result of a successful scan.
// POST /getScanResult
func (r *Router) handleScanResult(w http.ResponseWriter, req *http.Request) {
	var body scanResultRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeAPIError(w, errInvalidBody)
		return
	}
	format, err := scan.ParseFormat(body.FileFormat)
	if err != nil {
		writeAPIError(w, errFileFormat)
		return
	}

	if readiness := r.machine.Readiness(); !readiness.Ready {
		writeAPIError(w, errNotReady.withMessage(readiness.Message))
		return
	}

	f, info, err := r.results.Open(format)
	if err != nil {
		if errors.Is(err, results.ErrResultMissing) {
			r.logger.Error("result file missing", "format", string(format), "error", err)
			writeAPIError(w, errNoResult)
			return
		}
		r.logger.Error("opening result file", "format", string(format), "error", err)
		writeAPIError(w, errReadResult)
		return
	}
	defer f.Close() //nolint:errcheck

	h := w.Header()
	h.Set("Content-Type", format.ContentType())
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		r.logger.Warn("streaming result file", "format", string(format), "error", err)
	}
}
