package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default locations used when no override is configured.
const (
	DefaultDir  = "data"
	FallbackDir = "/tmp/doxyme-slack-calling"
)

// DirResolver picks the directory that holds the mapping document. The
// answer is computed once and cached for the life of the process.
//
// Order: Override (must be creatable), then Default when writable, then
// Fallback.
type DirResolver struct {
	Override string
	Default  string
	Fallback string

	once sync.Once
	dir  string
	err  error
}

// NewDirResolver returns a resolver using DefaultDir and FallbackDir.
func NewDirResolver(override string) *DirResolver {
	return &DirResolver{Override: override, Default: DefaultDir, Fallback: FallbackDir}
}

// Resolve returns the resolved directory, creating it when needed.
func (r *DirResolver) Resolve() (string, error) {
	r.once.Do(func() { r.dir, r.err = r.resolve() })
	return r.dir, r.err
}

func (r *DirResolver) resolve() (string, error) {
	if dir := strings.TrimSpace(r.Override); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("%w: create data dir %s: %v", ErrStore, dir, err)
		}
		return dir, nil
	}
	def := r.Default
	if def == "" {
		def = DefaultDir
	}
	if writable(def) {
		return def, nil
	}
	fb := r.Fallback
	if fb == "" {
		fb = FallbackDir
	}
	if err := os.MkdirAll(fb, 0o755); err != nil {
		return "", fmt.Errorf("%w: create fallback dir %s: %v", ErrStore, fb, err)
	}
	return fb, nil
}

// writable creates dir if needed and probes it with a throwaway file, which
// also catches read-only mounts where permission bits look fine.
func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	closeErr := f.Close()
	removeErr := os.Remove(name)
	return errors.Join(closeErr, removeErr) == nil
}

// fixedDir is used by tests and callers that already know the directory.
func fixedDir(dir string) *DirResolver {
	r := &DirResolver{}
	r.once.Do(func() { r.dir = filepath.Clean(dir) })
	return r
}
