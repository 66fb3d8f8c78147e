package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/bodyscanmock/internal/scan"
)

// handleDeviceStatus reports whether the simulated device is connected.
// GET /getDeviceStatus
func (r *Router) handleDeviceStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.machine.DeviceStatus())
}

type startScanRequest struct {
	BodyPart string `json:"bodyPart"`
	Side     string `json:"side"`
}

// handleStartScan starts a scan. Checks run in a fixed order: a running scan,
// then the body part, then the side, then device connectivity.
// POST /startScan
func (r *Router) handleStartScan(w http.ResponseWriter, req *http.Request) {
	if r.machine.State().InProgress {
		writeAPIError(w, errScanRunning)
		return
	}

	var body startScanRequest
	if err := decodeBody(w, req, &body); err != nil {
		writeAPIError(w, errInvalidBody)
		return
	}
	bodyPart, err := scan.ParseBodyPart(body.BodyPart)
	if err != nil {
		writeAPIError(w, errBodyPart)
		return
	}
	side, err := scan.ParseSide(body.Side)
	if err != nil {
		writeAPIError(w, errSide)
		return
	}

	if r.machine.DeviceStatus().Status != scan.Connected {
		writeAPIError(w, errNoDevice)
		return
	}

	snap, err := r.machine.Start(scan.Request{BodyPart: bodyPart, Side: side})
	if errors.Is(err, scan.ErrScanInProgress) {
		writeAPIError(w, errScanRunning)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"scanId":  snap.ID,
	})
}

// handleResetScan discards any scan state.
// POST /resetScan
func (r *Router) handleResetScan(w http.ResponseWriter, req *http.Request) {
	r.machine.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type scanStatusResponse struct {
	InProgress bool     `json:"inProgress"`
	Progress   *float64 `json:"progress,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// handleScanStatus is the polling endpoint. Progress is included only while
// a scan runs and progress reporting is enabled.
// GET /getScanStatus
func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	snap, progress, ok := r.machine.Poll()

	var resp scanStatusResponse
	switch snap.Phase {
	case scan.PhaseScanning:
		resp.InProgress = true
		if ok {
			resp.Progress = &progress
		}
	case scan.PhaseSucceeded:
		resp.Success = snap.Success
	case scan.PhaseFailed:
		resp.Success = snap.Success
		resp.Message = snap.ErrorMessage
		if resp.Message == "" {
			resp.Message = scan.MsgScanFailed
		}
	default:
		failed := false
		resp.Success = &failed
		resp.Message = scan.MsgNoScan
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScanState returns the full lazily evaluated snapshot.
// GET /getScanState
func (r *Router) handleScanState(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.machine.State())
}
