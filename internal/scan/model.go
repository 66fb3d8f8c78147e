package scan

import (
	"fmt"
	"time"
)

// BodyPart identifies the region of the body being scanned.
type BodyPart string

// Supported body parts.
const (
	Foot  BodyPart = "FOOT"
	Leg   BodyPart = "LEG"
	Arm   BodyPart = "ARM"
	Torso BodyPart = "TORSO"
)

// BodyParts returns every accepted body part in display order.
func BodyParts() []BodyPart {
	return []BodyPart{Foot, Leg, Arm, Torso}
}

// ParseBodyPart validates s against the accepted body parts. Matching is
// case-sensitive.
func ParseBodyPart(s string) (BodyPart, error) {
	for _, bp := range BodyParts() {
		if string(bp) == s {
			return bp, nil
		}
	}
	return "", fmt.Errorf("invalid body part %q", s)
}

// Side is the optional laterality of a scan. The zero value means no side.
type Side string

// Supported sides.
const (
	Left  Side = "LEFT"
	Right Side = "RIGHT"
)

// ParseSide validates s. An empty string is accepted and yields no side.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case "":
		return "", nil
	case Left, Right:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Request holds the parameters of a scan.
type Request struct {
	BodyPart BodyPart `json:"bodyPart"`
	Side     Side     `json:"side,omitempty"`
}

// Phase names a lifecycle stage of the device.
type Phase string

// Lifecycle phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// SimulatedFailureMessage is recorded on every scan that completes while
// forced failure is enabled.
const SimulatedFailureMessage = "Scan failed due to a simulated device error."

// Snapshot is the flat, serializable view of the scan state. Optional fields
// are nil or empty when the current phase does not carry them.
type Snapshot struct {
	ID           string     `json:"id,omitempty"`
	Phase        Phase      `json:"phase"`
	InProgress   bool       `json:"inProgress"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Success      *bool      `json:"success,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Request      *Request   `json:"request,omitempty"`
}

// Readiness reports whether a result may be fetched, and why not.
type Readiness struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// Readiness messages.
const (
	MsgNoScan     = "No scan has been started."
	MsgInProgress = "Scan is still in progress."
	MsgScanFailed = "Scan failed."
)

// ConnectionStatus is the reported connectivity of the device.
type ConnectionStatus string

// Connection statuses.
const (
	Connected    ConnectionStatus = "CONNECTED"
	NotConnected ConnectionStatus = "NOT_CONNECTED"
)

// DeviceStatus is the answer to a device status query.
type DeviceStatus struct {
	Status     ConnectionStatus `json:"status"`
	DeviceName string           `json:"deviceName,omitempty"`
}

// Device is the static description of the simulated hardware.
type Device struct {
	Connected bool
	Name      string
}

// Settings controls scan timing and outcome.
type Settings struct {
	Duration         time.Duration
	SupportsProgress bool
	ForceFailure     bool
}
