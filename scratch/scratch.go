// Package scratch manages per-run temporary directories. A Dir is emptied
// when acquired and removed when released, so files never leak from one run
// into the next even when a run fails half way.
//
//	dir, err := scratch.Acquire(root, "ocr")
//	if err != nil { ... }
//	defer dir.Release()
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnsafeName is returned for file names that would escape the directory.
var ErrUnsafeName = errors.New("scratch: unsafe file name")

// Dir is a scoped scratch directory.
type Dir struct {
	path string
	once sync.Once
	err  error
}

// Acquire clears root/name and recreates it empty.
func Acquire(root, name string) (*Dir, error) {
	path := filepath.Join(root, name)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("scratch: clear %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory, or a path inside it.
func (d *Dir) Path(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// WriteFile stores data under name and returns the full path. name is a
// plain file name; names taken from remote links are checked.
func (d *Dir) WriteFile(name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	p := d.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("scratch: write %s: %w", name, err)
	}
	return p, nil
}

// Sub acquires a nested scoped directory.
func (d *Dir) Sub(name string) (*Dir, error) {
	return Acquire(d.path, name)
}

// Release removes the directory and everything in it. Safe to call more
// than once; later calls return the first result.
func (d *Dir) Release() error {
	d.once.Do(func() {
		if err := os.RemoveAll(d.path); err != nil {
			d.err = fmt.Errorf("scratch: release %s: %w", d.path, err)
		}
	})
	return d.err
}

func checkName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}
