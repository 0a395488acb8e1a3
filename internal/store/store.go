// Package store implements the durable mapping store: a single JSON document
// on local disk mapping Slack user ids to room URLs.
//
// Writers are serialized process-wide through a FIFO WriteQueue and replace
// the document with write-to-temp-then-rename, so any reader sees either the
// complete previous document or the complete new one. Readers never wait on
// writers. There is no cross-process locking; one process owns the file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
)

// DocumentName is the file name of the mapping document inside the data dir.
const DocumentName = "users.json"

// ErrStore wraps every I/O or decoding failure surfaced by the store.
var ErrStore = errors.New("store failure")

// beforeRename runs after the temp file is fully written and closed and
// before it replaces the document. Tests swap it to simulate a crash.
var beforeRename = func(tmpPath string) error { return nil }

// Store reads and writes the mapping document.
// It is safe for concurrent use.
type Store struct {
	dirs  *DirResolver
	queue *WriteQueue
	name  string
	now   func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithQueue shares an existing write queue.
func WithQueue(q *WriteQueue) Option { return func(s *Store) { s.queue = q } }

// WithFileName overrides DocumentName.
func WithFileName(name string) Option { return func(s *Store) { s.name = name } }

// New returns a Store whose directory is resolved lazily by dirs.
func New(dirs *DirResolver, opts ...Option) *Store {
	s := &Store{dirs: dirs, queue: NewWriteQueue(), name: DocumentName, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open returns a Store rooted at an already known directory.
func Open(dir string, opts ...Option) *Store { return New(fixedDir(dir), opts...) }

// Path returns the absolute location of the mapping document.
func (s *Store) Path() (string, error) {
	dir, err := s.dirs.Resolve()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, s.name), nil
}

// Get returns the mapping for userID, or nil when none exists.
func (s *Store) Get(ctx context.Context, userID string) (*domain.RoomMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path()
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	m, ok := doc[userID]
	if !ok {
		return nil, nil
	}
	m.UserID = userID
	return &m, nil
}

// All returns a snapshot of every mapping.
func (s *Store) All(ctx context.Context) (domain.MappingDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path()
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	for id, m := range doc {
		m.UserID = id
		doc[id] = m
	}
	return doc, nil
}

// Set stores roomURL for userID, overwriting any previous mapping, and
// returns the record as written. Only the target key changes; every other
// mapping is carried over from the current document.
func (s *Store) Set(ctx context.Context, userID, roomURL string) (*domain.RoomMapping, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrStore)
	}
	path, err := s.Path()
	if err != nil {
		return nil, err
	}

	var out domain.RoomMapping
	err = s.queue.RunExclusive(ctx, func() error {
		doc, err := readDocument(path)
		if err != nil {
			return err
		}
		rec := domain.RoomMapping{RoomURL: roomURL, UpdatedAt: s.now().UTC()}
		doc[userID] = rec
		if err := writeDocument(path, doc); err != nil {
			return err
		}
		out = rec
		out.UserID = userID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// readDocument loads the document. A missing or blank file is an empty
// document.
func readDocument(path string) (domain.MappingDocument, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.MappingDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStore, path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return domain.MappingDocument{}, nil
	}
	var doc domain.MappingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStore, path, err)
	}
	if doc == nil {
		doc = domain.MappingDocument{}
	}
	return doc, nil
}

// writeDocument replaces the document at path atomically.
func writeDocument(path string, doc domain.MappingDocument) (err error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStore, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp in %s: %v", ErrStore, dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrStore, tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrStore, tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStore, tmpPath, err)
	}
	if err = beforeRename(tmpPath); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrStore, tmpPath, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives power loss.
// Not every platform supports it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
