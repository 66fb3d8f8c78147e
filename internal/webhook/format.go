package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/sydlexius/bodyscanmock/internal/event"
)

// payload is the JSON body delivered to webhook URLs.
type payload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data,omitempty"`
}

func formatPayload(e event.Event) ([]byte, error) {
	return json.Marshal(payload{
		Event:     string(e.Type),
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Summary:   describe(e),
		Data:      e.Data,
	})
}

// describe renders a one-line human summary of e.
func describe(e event.Event) string {
	id, _ := e.Data["scan_id"].(string)
	part, _ := e.Data["body_part"].(string)
	if side, _ := e.Data["side"].(string); side != "" {
		part += " " + side
	}

	switch e.Type {
	case event.ScanStarted:
		return fmt.Sprintf("Scan %s started (%s)", id, part)
	case event.ScanCompleted:
		if ok, _ := e.Data["success"].(bool); ok {
			return fmt.Sprintf("Scan %s succeeded (%s)", id, part)
		}
		msg, _ := e.Data["error_message"].(string)
		return fmt.Sprintf("Scan %s failed (%s): %s", id, part, msg)
	case event.ScanReset:
		return "Scan state reset"
	default:
		return string(e.Type)
	}
}
