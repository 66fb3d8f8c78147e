package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/database"
	"github.com/sydlexius/bodyscanmock/internal/history"
	"github.com/sydlexius/bodyscanmock/internal/logging"
	"github.com/sydlexius/bodyscanmock/internal/results"
	"github.com/sydlexius/bodyscanmock/internal/scan"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router     *Router
	handler    http.Handler
	clock      *testClock
	resultsDir string
	history    *history.Service
}

type envOptions struct {
	disconnected   bool
	forceFailure   bool
	noProgress     bool
	skipSeed       bool
	withoutHistory bool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := testLogger()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	machine := scan.NewMachine(
		scan.Settings{
			Duration:         8 * time.Second,
			SupportsProgress: !opts.noProgress,
			ForceFailure:     opts.forceFailure,
		},
		scan.Device{Connected: !opts.disconnected, Name: "MockScanner-3000"},
		logger,
		scan.WithClock(clock.Now),
	)

	dir := filepath.Join(t.TempDir(), "results")
	if opts.skipSeed {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("creating results dir: %v", err)
		}
	} else if _, err := results.Seed(dir); err != nil {
		t.Fatalf("seeding results: %v", err)
	}

	var hist *history.Service
	if !opts.withoutHistory {
		db, err := database.Open(database.MemoryPath)
		if err != nil {
			t.Fatalf("opening test db: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			t.Fatalf("running migrations: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		hist = history.NewService(db, logger)
	}

	logMgr, _ := logging.NewManager(logging.Config{Level: "error", Format: "json"})
	t.Cleanup(func() { _ = logMgr.Close() })

	r := NewRouter(RouterDeps{
		Machine:    machine,
		Results:    results.NewStore(dir, logger),
		History:    hist,
		LogManager: logMgr,
		Logger:     logger,
	})
	return &testEnv{
		router:     r,
		handler:    r.Handler(),
		clock:      clock,
		resultsDir: dir,
		history:    hist,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if buf.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	return string(b)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

// assertAPIError checks a rejection's status, numeric code and category.
func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, status, errorCode int, code string) map[string]any {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["errorCode"] != float64(errorCode) {
		t.Errorf("errorCode = %v, want %d", body["errorCode"], errorCode)
	}
	if body["code"] != code {
		t.Errorf("code = %v, want %s", body["code"], code)
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("expected a human-readable message")
	}
	return body
}
