package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	FilePath       string `json:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty"`
}

// DefaultConfig returns the stock configuration: info level, JSON to stdout.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// Validate reports whether the level and format are recognized.
func (c Config) Validate() error {
	if !ValidLevel(c.Level) {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	if !ValidFormat(c.Format) {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// outputChanged reports whether switching from c to other requires a new
// handler rather than a level change.
func (c Config) outputChanged(other Config) bool {
	return c.Format != other.Format ||
		c.FilePath != other.FilePath ||
		c.FileMaxSizeMB != other.FileMaxSizeMB ||
		c.FileMaxFiles != other.FileMaxFiles ||
		c.FileMaxAgeDays != other.FileMaxAgeDays
}

// swapHandler forwards to an inner slog.Handler that can be replaced while
// loggers derived from it are in use. Derived handlers share the root slot
// and replay their attrs and groups onto whatever handler is current.
type swapHandler struct {
	root   *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
	cache  atomic.Pointer[derived]
}

// derived memoizes the handler built from a given root.
type derived struct {
	base *slog.Handler
	h    slog.Handler
}

func newSwapHandler(h slog.Handler) *swapHandler {
	root := &atomic.Pointer[slog.Handler]{}
	root.Store(&h)
	return &swapHandler{root: root}
}

func (s *swapHandler) swap(h slog.Handler) { s.root.Store(&h) }

func (s *swapHandler) load() slog.Handler {
	base := s.root.Load()
	if len(s.derive) == 0 {
		return *base
	}
	if c := s.cache.Load(); c != nil && c.base == base {
		return c.h
	}
	h := *base
	for _, d := range s.derive {
		h = d(h)
	}
	s.cache.Store(&derived{base: base, h: h})
	return h
}

func (s *swapHandler) with(d func(slog.Handler) slog.Handler) *swapHandler {
	return &swapHandler{
		root:   s.root,
		derive: append(slices.Clip(s.derive), d),
	}
}

func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.root.Load()).Enabled(ctx, level)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.load().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// Manager owns the logger and lets the level and output be changed at
// runtime. Changes reach every logger derived from the root, including
// ones created before the change.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *swapHandler

	mu     sync.Mutex
	config Config
	closer io.Closer
}

// NewManager creates a Manager and returns it along with the root logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	w, closer := openWriter(cfg)
	m := &Manager{
		levelVar: lvl,
		handler:  newSwapHandler(newHandler(w, lvl, cfg.Format)),
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(m.handler)
}

// Reconfigure validates and applies cfg.
func (m *Manager) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))
	if m.config.outputChanged(cfg) {
		if m.closer != nil {
			_ = m.closer.Close()
			m.closer = nil
		}
		w, closer := openWriter(cfg)
		m.handler.swap(newHandler(w, m.levelVar, cfg.Format))
		m.closer = closer
	}
	m.config = cfg
	return nil
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if one is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openWriter returns stdout, or stdout teed into a rotating file when a
// file path is configured. The closer is the rotating file.
func openWriter(cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	def := DefaultConfig()
	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    positiveOr(cfg.FileMaxSizeMB, def.FileMaxSizeMB),
		MaxBackups: positiveOr(cfg.FileMaxFiles, def.FileMaxFiles),
		MaxAge:     positiveOr(cfg.FileMaxAgeDays, def.FileMaxAgeDays),
	}
	return io.MultiWriter(os.Stdout, lj), lj
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func newHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	return s == "text" || s == "json"
}
