package prefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// FileName is the preference file in the user's Documents folder.
const FileName = ".p4syncpref"

// FileStore keeps preferences in a local JSON file.
type FileStore struct {
	path string

	mu sync.Mutex
	// last is the file content this store last wrote or reloaded; the
	// watch skips events that leave it unchanged.
	last []byte
}

// NewFileStore returns a store at path, or at DefaultPath when path is empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store. A missing or corrupt file gives empty preferences.
func (s *FileStore) Load(ctx context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.read()
	metrics.RecordPrefsOperation("file", "load", err == nil)
	return p, err
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		metrics.RecordPrefsOperation("file", "update", false)
		return err
	}
	fn(&p)
	err = s.write(p)
	metrics.RecordPrefsOperation("file", "update", err == nil)
	return err
}

func (s *FileStore) read() (Preferences, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Preferences{}, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}
	p, err := decode(data)
	if err != nil {
		logging.Warn("ignoring corrupt preference file", zap.String("path", s.path), zap.Error(err))
		return Preferences{}, nil
	}
	return p, nil
}

func (s *FileStore) write(p Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	data, err := encode(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("prefs: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("prefs: replace %s: %w", s.path, err)
	}
	s.last = data
	return nil
}

// reload re-reads the file for the watch. It reports false when the
// content is what this store last saw, which covers its own writes.
func (s *FileStore) reload() (Preferences, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}
	if bytes.Equal(data, s.last) {
		return Preferences{}, false, nil
	}
	s.last = data
	p, err := decode(data)
	if err != nil {
		logging.Warn("ignoring corrupt preference file", zap.String("path", s.path), zap.Error(err))
		return Preferences{}, true, nil
	}
	return p, true, nil
}

// Watch calls onChange with the reloaded preferences whenever the file is
// written by another process. Writes made through this store are not
// reported. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func(Preferences)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prefs: create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("prefs: watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			p, changed, err := s.reload()
			if err != nil {
				logging.Warn("reload preferences failed", zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			metrics.RecordPrefsOperation("file", "reload", true)
			onChange(p)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Warn("preference watcher error", zap.Error(err))
		}
	}
}
