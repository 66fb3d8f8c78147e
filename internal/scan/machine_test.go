package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/event"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func defaultSettings() Settings {
	return Settings{Duration: 8 * time.Second, SupportsProgress: true}
}

func newTestMachine(t *testing.T, settings Settings) (*Machine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	n := 0
	m := NewMachine(settings, Device{Connected: true, Name: "MockScanner-3000"}, testLogger(),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("scan-%d", n)
		}),
	)
	return m, clock
}

func TestMachine_InitialStateIsIdle(t *testing.T) {
	m, _ := newTestMachine(t, defaultSettings())

	snap := m.State()
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %q, want %q", snap.Phase, PhaseIdle)
	}
	if snap.InProgress || snap.StartedAt != nil || snap.FinishedAt != nil || snap.Success != nil ||
		snap.ErrorMessage != "" || snap.Request != nil || snap.ID != "" {
		t.Errorf("idle snapshot has fields set: %+v", snap)
	}
}

func TestMachine_StartSetsScanning(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())

	snap, err := m.Start(Request{BodyPart: Foot, Side: Left})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !snap.InProgress {
		t.Error("expected inProgress after start")
	}
	if snap.StartedAt == nil || !snap.StartedAt.Equal(clock.Now()) {
		t.Errorf("startedAt = %v, want %v", snap.StartedAt, clock.Now())
	}
	if snap.Success != nil || snap.FinishedAt != nil || snap.ErrorMessage != "" {
		t.Errorf("scanning snapshot carries finished fields: %+v", snap)
	}
	if snap.Request == nil || snap.Request.BodyPart != Foot || snap.Request.Side != Left {
		t.Errorf("request = %+v, want FOOT/LEFT", snap.Request)
	}
	if snap.ID != "scan-1" {
		t.Errorf("id = %q, want scan-1", snap.ID)
	}
}

func TestMachine_StartRejectedWhileInProgress(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())

	if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	for _, bp := range BodyParts() {
		for _, side := range []Side{"", Left, Right} {
			_, err := m.Start(Request{BodyPart: bp, Side: side})
			if !errors.Is(err, ErrScanInProgress) {
				t.Errorf("Start(%s,%s) error = %v, want ErrScanInProgress", bp, side, err)
			}
		}
	}

	clock.Advance(7 * time.Second)
	if _, err := m.Start(Request{BodyPart: Arm}); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("Start just before completion error = %v, want ErrScanInProgress", err)
	}

	snap := m.State()
	if snap.Request.BodyPart != Foot {
		t.Errorf("rejected start overwrote request: %+v", snap.Request)
	}
}

func TestMachine_ProgressMonotonicAndClamped(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())

	if _, err := m.Start(Request{BodyPart: Leg}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p, ok := m.Progress()
	if !ok {
		t.Fatal("expected progress to be supported")
	}
	if p != 0 {
		t.Errorf("initial progress = %v, want 0", p)
	}

	prev := p
	for range 7 {
		clock.Advance(time.Second)
		p, ok = m.Progress()
		if !ok {
			t.Fatal("progress unsupported while scanning")
		}
		if p < prev {
			t.Errorf("progress decreased: %v -> %v", prev, p)
		}
		if p < 0 || p > 1 {
			t.Errorf("progress %v out of [0,1]", p)
		}
		prev = p
	}
	if prev != 7.0/8.0 {
		t.Errorf("progress after 7s = %v, want %v", prev, 7.0/8.0)
	}
}

func TestMachine_ProgressClampsBackwardsClock(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())
	if _, err := m.Start(Request{BodyPart: Leg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(-2 * time.Second)

	p, ok := m.Progress()
	if !ok || p != 0 {
		t.Errorf("Progress() = %v, %v; want 0, true", p, ok)
	}
}

func TestMachine_ProgressUnsupported(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := defaultSettings()
		s.SupportsProgress = false
		m, _ := newTestMachine(t, s)
		if _, err := m.Start(Request{BodyPart: Arm}); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, ok := m.Progress(); ok {
			t.Error("expected progress unsupported when disabled")
		}
	})

	t.Run("idle", func(t *testing.T) {
		m, _ := newTestMachine(t, defaultSettings())
		if _, ok := m.Progress(); ok {
			t.Error("expected progress unsupported when idle")
		}
	})

	t.Run("finished", func(t *testing.T) {
		m, clock := newTestMachine(t, defaultSettings())
		if _, err := m.Start(Request{BodyPart: Arm}); err != nil {
			t.Fatalf("Start: %v", err)
		}
		clock.Advance(10 * time.Second)
		if _, ok := m.Progress(); ok {
			t.Error("expected progress unsupported once finished")
		}
	})
}

func TestMachine_LazyCompletionIsIdempotent(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())
	if _, err := m.Start(Request{BodyPart: Torso}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(8*time.Second - time.Nanosecond)
	if snap := m.State(); !snap.InProgress {
		t.Fatal("scan finished before the configured duration")
	}

	clock.Advance(time.Nanosecond)
	first := m.State()
	if first.InProgress {
		t.Fatal("scan still in progress at the configured duration")
	}
	if first.Phase != PhaseSucceeded || first.Success == nil || !*first.Success {
		t.Errorf("expected success, got %+v", first)
	}
	if first.FinishedAt == nil || !first.FinishedAt.Equal(clock.Now()) {
		t.Errorf("finishedAt = %v, want %v", first.FinishedAt, clock.Now())
	}

	clock.Advance(time.Minute)
	second := m.State()
	if !second.FinishedAt.Equal(*first.FinishedAt) || *second.Success != *first.Success ||
		second.ErrorMessage != first.ErrorMessage || second.ID != first.ID {
		t.Errorf("repeated read changed the snapshot: %+v vs %+v", first, second)
	}
}

func TestMachine_ForceFailure(t *testing.T) {
	s := defaultSettings()
	s.ForceFailure = true
	m, clock := newTestMachine(t, s)

	for i := range 3 {
		if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		clock.Advance(9 * time.Second)
		snap := m.State()
		if snap.Success == nil || *snap.Success {
			t.Fatalf("scan #%d: expected failure, got %+v", i, snap)
		}
		if snap.ErrorMessage == "" {
			t.Errorf("scan #%d: expected a failure message", i)
		}
		if snap.Phase != PhaseFailed {
			t.Errorf("scan #%d: phase = %q, want %q", i, snap.Phase, PhaseFailed)
		}
	}
}

func TestMachine_Readiness(t *testing.T) {
	tests := []struct {
		name      string
		fail      bool
		start     bool
		elapsed   time.Duration
		wantReady bool
		wantMsg   string
	}{
		{name: "no scan", wantMsg: MsgNoScan},
		{name: "in progress", start: true, elapsed: time.Second, wantMsg: MsgInProgress},
		{name: "failed", fail: true, start: true, elapsed: 8 * time.Second, wantMsg: SimulatedFailureMessage},
		{name: "succeeded", start: true, elapsed: 8 * time.Second, wantReady: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings()
			s.ForceFailure = tt.fail
			m, clock := newTestMachine(t, s)
			if tt.start {
				if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
					t.Fatalf("Start: %v", err)
				}
			}
			clock.Advance(tt.elapsed)

			got := m.Readiness()
			if got.Ready != tt.wantReady {
				t.Errorf("ready = %v, want %v", got.Ready, tt.wantReady)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestMachine_ReadinessFallbackMessage(t *testing.T) {
	m, _ := newTestMachine(t, defaultSettings())
	m.current = finished{id: "x", success: false}
	if got := m.Readiness(); got.Ready || got.Message != MsgScanFailed {
		t.Errorf("Readiness() = %+v, want generic failure", got)
	}
}

func TestMachine_Reset(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())

	if _, err := m.Start(Request{BodyPart: Foot, Side: Right}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Reset()
	if snap := m.State(); snap.Phase != PhaseIdle || snap.InProgress || snap.Request != nil {
		t.Errorf("after reset while scanning: %+v", snap)
	}

	if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	clock.Advance(10 * time.Second)
	m.Reset()
	snap := m.State()
	if snap.Phase != PhaseIdle || snap.StartedAt != nil || snap.Success != nil {
		t.Errorf("after reset when finished: %+v", snap)
	}
}

func TestMachine_StartAfterFinishOverwrites(t *testing.T) {
	s := defaultSettings()
	s.ForceFailure = true
	m, clock := newTestMachine(t, s)

	if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(8 * time.Second)
	if snap := m.State(); snap.Phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", snap.Phase)
	}

	snap, err := m.Start(Request{BodyPart: Arm, Side: Left})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !snap.InProgress || snap.Success != nil || snap.ErrorMessage != "" || snap.FinishedAt != nil {
		t.Errorf("start did not clear finished fields: %+v", snap)
	}
	if snap.ID != "scan-2" {
		t.Errorf("id = %q, want scan-2", snap.ID)
	}
}

func TestMachine_DeviceStatus(t *testing.T) {
	on := NewMachine(defaultSettings(), Device{Connected: true, Name: "MockScanner-3000"}, testLogger())
	if got := on.DeviceStatus(); got.Status != Connected || got.DeviceName != "MockScanner-3000" {
		t.Errorf("connected DeviceStatus() = %+v", got)
	}

	off := NewMachine(defaultSettings(), Device{Connected: false, Name: "ignored"}, testLogger())
	if got := off.DeviceStatus(); got.Status != NotConnected || got.DeviceName != "" {
		t.Errorf("disconnected DeviceStatus() = %+v", got)
	}
	if snap := off.State(); snap.Phase != PhaseIdle {
		t.Errorf("device query changed state: %+v", snap)
	}
}

func TestMachine_PublishesTransitionsOnce(t *testing.T) {
	m, clock := newTestMachine(t, defaultSettings())
	bus := event.NewBus(testLogger(), 16)
	m.SetEventBus(bus)

	var mu sync.Mutex
	counts := map[event.Type]int{}
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[e.Type]++
	})

	if _, err := m.Start(Request{BodyPart: Foot}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(9 * time.Second)
	for range 5 {
		m.State()
		m.Readiness()
	}
	m.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	want := map[event.Type]int{event.ScanStarted: 1, event.ScanCompleted: 1, event.ScanReset: 1}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s published %d times, want %d", typ, counts[typ], n)
		}
	}
}

func TestMachine_ConcurrentStartsAdmitOne(t *testing.T) {
	m := NewMachine(Settings{Duration: time.Hour}, Device{Connected: true}, testLogger())

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(Request{BodyPart: Foot}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
			m.State()
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("accepted %d concurrent starts, want 1", accepted)
	}
}

func TestAdvance_Pure(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := scanning{id: "a", startedAt: start, request: Request{BodyPart: Leg}}
	s := Settings{Duration: time.Second}

	if got := advance(sc, start.Add(500*time.Millisecond), s); got != stage(sc) {
		t.Errorf("advance before duration = %#v, want unchanged", got)
	}
	got := advance(sc, start.Add(time.Second), s)
	f, ok := got.(finished)
	if !ok {
		t.Fatalf("advance at duration = %#v, want finished", got)
	}
	if !f.success || f.request != sc.request || !f.finishedAt.Equal(start.Add(time.Second)) {
		t.Errorf("unexpected finished stage: %#v", f)
	}
	if again := advance(f, start.Add(time.Hour), s); again != stage(f) {
		t.Errorf("advance on finished changed it: %#v", again)
	}
	if again := advance(idle{}, start, s); again != stage(idle{}) {
		t.Errorf("advance on idle changed it: %#v", again)
	}
}
