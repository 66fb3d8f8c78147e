package scan

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/bodyscanmock/internal/event"
)

// ErrScanInProgress is returned by Start while a scan is still running.
var ErrScanInProgress = errors.New("scan already in progress")

// stage is the lifecycle sum type: exactly one of idle, scanning or finished.
type stage interface {
	phase() Phase
}

type idle struct{}

type scanning struct {
	id        string
	startedAt time.Time
	request   Request
}

type finished struct {
	id           string
	startedAt    time.Time
	finishedAt   time.Time
	request      Request
	success      bool
	errorMessage string
}

func (idle) phase() Phase     { return PhaseIdle }
func (scanning) phase() Phase { return PhaseScanning }

func (f finished) phase() Phase {
	if f.success {
		return PhaseSucceeded
	}
	return PhaseFailed
}

// advance applies the time-based completion rule. It is pure: a scanning
// stage whose duration has elapsed becomes finished, anything else is
// returned unchanged.
func advance(st stage, now time.Time, s Settings) stage {
	sc, ok := st.(scanning)
	if !ok || now.Sub(sc.startedAt) < s.Duration {
		return st
	}
	f := finished{
		id:         sc.id,
		startedAt:  sc.startedAt,
		finishedAt: now,
		request:    sc.request,
		success:    true,
	}
	if s.ForceFailure {
		f.success = false
		f.errorMessage = SimulatedFailureMessage
	}
	return f
}

// snapshotOf flattens a stage into its serializable form.
func snapshotOf(st stage) Snapshot {
	snap := Snapshot{Phase: st.phase()}
	switch v := st.(type) {
	case scanning:
		started := v.startedAt
		req := v.request
		snap.ID = v.id
		snap.InProgress = true
		snap.StartedAt = &started
		snap.Request = &req
	case finished:
		started, ended := v.startedAt, v.finishedAt
		success := v.success
		req := v.request
		snap.ID = v.id
		snap.StartedAt = &started
		snap.FinishedAt = &ended
		snap.Success = &success
		snap.ErrorMessage = v.errorMessage
		snap.Request = &req
	}
	return snap
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator replaces the scan ID generator. Intended for tests.
func WithIDGenerator(gen func() string) Option {
	return func(m *Machine) { m.newID = gen }
}

// Machine owns the state of the single simulated device. All reads and
// writes go through mu so the lazy completion check cannot interleave with
// a start or reset.
type Machine struct {
	settings Settings
	device   Device
	logger   *slog.Logger
	eventBus *event.Bus
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	current stage
}

// NewMachine creates an idle machine.
func NewMachine(settings Settings, device Device, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		settings: settings,
		device:   device,
		logger:   logger.With(slog.String("component", "scan-machine")),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		current:  idle{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEventBus sets the bus that receives lifecycle transitions.
func (m *Machine) SetEventBus(bus *event.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventBus = bus
}

// Settings returns the timing and outcome configuration.
func (m *Machine) Settings() Settings {
	return m.settings
}

// DeviceStatus reports the configured connectivity. It does not touch scan
// state.
func (m *Machine) DeviceStatus() DeviceStatus {
	if m.device.Connected {
		return DeviceStatus{Status: Connected, DeviceName: m.device.Name}
	}
	return DeviceStatus{Status: NotConnected}
}

// Start begins a new scan, discarding any finished scan. It fails with
// ErrScanInProgress if a scan is still running.
func (m *Machine) Start(req Request) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.refreshLocked(now)
	if _, running := m.current.(scanning); running {
		return snapshotOf(m.current), ErrScanInProgress
	}

	sc := scanning{
		id:        m.newID(),
		startedAt: now,
		request:   req,
	}
	m.current = sc
	m.logger.Info("scan started",
		slog.String("scan_id", sc.id),
		slog.String("body_part", string(req.BodyPart)),
		slog.String("side", string(req.Side)),
	)
	m.publish(event.ScanStarted, map[string]any{
		"scan_id":    sc.id,
		"body_part":  string(req.BodyPart),
		"side":       string(req.Side),
		"started_at": now,
	})
	return snapshotOf(sc), nil
}

// Reset returns the machine to idle. A scan whose duration already elapsed
// is finalized first so its outcome is still reported.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.now())
	if _, isIdle := m.current.(idle); isIdle {
		return
	}
	m.current = idle{}
	m.logger.Debug("scan state reset")
	m.publish(event.ScanReset, nil)
}

// State returns the current snapshot after applying lazy completion.
func (m *Machine) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked(m.now())
	return snapshotOf(m.current)
}

// Progress returns the completion fraction in [0,1] of the running scan.
// The second result is false when progress reporting is disabled or no
// scan is running.
func (m *Machine) Progress() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.refreshLocked(now)
	return m.progressLocked(now)
}

// Poll returns the snapshot and progress as observed at a single instant.
func (m *Machine) Poll() (Snapshot, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.refreshLocked(now)
	p, ok := m.progressLocked(now)
	return snapshotOf(m.current), p, ok
}

// Readiness reports whether the result of the last scan may be fetched.
func (m *Machine) Readiness() Readiness {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked(m.now())

	switch v := m.current.(type) {
	case scanning:
		return Readiness{Message: MsgInProgress}
	case finished:
		if v.success {
			return Readiness{Ready: true}
		}
		if v.errorMessage != "" {
			return Readiness{Message: v.errorMessage}
		}
		return Readiness{Message: MsgScanFailed}
	default:
		return Readiness{Message: MsgNoScan}
	}
}

// refreshLocked is the single point where elapsed time mutates state.
func (m *Machine) refreshLocked(now time.Time) {
	next := advance(m.current, now, m.settings)
	f, done := next.(finished)
	if !done {
		return
	}
	if _, was := m.current.(scanning); !was {
		return
	}
	m.current = next
	m.logger.Info("scan finished",
		slog.String("scan_id", f.id),
		slog.Bool("success", f.success),
		slog.Duration("elapsed", f.finishedAt.Sub(f.startedAt)),
	)
	m.publish(event.ScanCompleted, map[string]any{
		"scan_id":       f.id,
		"body_part":     string(f.request.BodyPart),
		"side":          string(f.request.Side),
		"started_at":    f.startedAt,
		"finished_at":   f.finishedAt,
		"success":       f.success,
		"error_message": f.errorMessage,
	})
}

func (m *Machine) progressLocked(now time.Time) (float64, bool) {
	sc, ok := m.current.(scanning)
	if !m.settings.SupportsProgress || !ok {
		return 0, false
	}
	if m.settings.Duration <= 0 {
		return 1, true
	}
	p := float64(now.Sub(sc.startedAt)) / float64(m.settings.Duration)
	return min(max(p, 0), 1), true
}

func (m *Machine) publish(t event.Type, data map[string]any) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(event.Event{Type: t, Data: data})
}
