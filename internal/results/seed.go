package results

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sydlexius/bodyscanmock/internal/scan"
)

// placeholders are minimal but well-formed sample payloads per format.
var placeholders = map[scan.Format][]byte{
	scan.FormatOBJ: []byte("# bodyscanmock placeholder mesh\n" +
		"v 0.0 0.0 0.0\nv 1.0 0.0 0.0\nv 0.0 1.0 0.0\nf 1 2 3\n"),
	scan.FormatSTL: []byte("solid placeholder\n" +
		"  facet normal 0 0 1\n    outer loop\n" +
		"      vertex 0 0 0\n      vertex 1 0 0\n      vertex 0 1 0\n" +
		"    endloop\n  endfacet\nendsolid placeholder\n"),
	// Draco files start with the "DRACO" magic followed by version bytes.
	scan.FormatDRC: {'D', 'R', 'A', 'C', 'O', 2, 2, 0, 0},
}

// Seed writes a placeholder result for every format that is missing from
// dir and returns the paths it created. Existing files are left alone.
func Seed(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: results are meant to be readable
		return nil, fmt.Errorf("creating results directory: %w", err)
	}

	var created []string
	for _, f := range scan.Formats() {
		target := filepath.Join(dir, f.Filename())
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("checking %s: %w", target, err)
		}
		if err := writeFileAtomic(target, placeholders[f], 0o644); err != nil {
			return created, err
		}
		created = append(created, target)
	}
	return created, nil
}

// writeFileAtomic writes data next to target and renames it into place so
// a reader never sees a partial file.
func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp to target: %w", err)
	}
	return nil
}
