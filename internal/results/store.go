package results

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sydlexius/bodyscanmock/internal/scan"
)

// ErrResultMissing is returned when the file for a format is absent from
// the results directory.
var ErrResultMissing = errors.New("result file not found")

// Store serves sample result files from a directory. It also keeps an
// index of which formats are present, maintained by Refresh and Watch. The
// index is informational; Open always checks the disk.
type Store struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	available map[scan.Format]bool
}

// NewStore creates a store over dir and builds the initial index.
func NewStore(dir string, logger *slog.Logger) *Store {
	s := &Store{
		dir:       dir,
		logger:    logger.With(slog.String("component", "results-store")),
		available: make(map[scan.Format]bool),
	}
	s.Refresh()
	return s
}

// Dir returns the results directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk location of the result for f.
func (s *Store) Path(f scan.Format) string {
	return filepath.Join(s.dir, f.Filename())
}

// Open opens the result file for f. The caller must close it. A missing or
// non-regular file yields ErrResultMissing.
func (s *Store) Open(f scan.Format) (*os.File, fs.FileInfo, error) {
	path := s.Path(f)
	file, err := os.Open(path) //nolint:gosec // G304: path is built from a validated format
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.markAvailable(f, false)
			return nil, nil, fmt.Errorf("%s: %w", path, ErrResultMissing)
		}
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		s.markAvailable(f, false)
		return nil, nil, fmt.Errorf("%s is not a regular file: %w", path, ErrResultMissing)
	}
	s.markAvailable(f, true)
	return file, info, nil
}

// Refresh rebuilds the availability index from the directory.
func (s *Store) Refresh() {
	for _, f := range scan.Formats() {
		info, err := os.Stat(s.Path(f))
		s.markAvailable(f, err == nil && info.Mode().IsRegular())
	}
}

// Available lists the formats whose files were last seen on disk, in the
// canonical format order.
func (s *Store) Available() []scan.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []scan.Format{}
	for _, f := range scan.Formats() {
		if s.available[f] {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) markAvailable(f scan.Format, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available[f] != ok {
		s.logger.Debug("result availability changed", "format", string(f), "available", ok)
	}
	s.available[f] = ok
}

// formatForPath maps a file in the results directory back to its format.
func (s *Store) formatForPath(path string) (scan.Format, bool) {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(s.dir) {
		return "", false
	}
	name := filepath.Base(path)
	for _, f := range scan.Formats() {
		if f.Filename() == name {
			return f, true
		}
	}
	return "", false
}
