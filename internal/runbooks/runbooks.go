// Package runbooks serves operator-written markdown runbooks to the
// reasoning loop, reloading them when the directory changes.
package runbooks

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// maxRunbookLen caps how much of a runbook is injected into the prompt.
const maxRunbookLen = 8 * 1024

// Store holds the loaded runbooks, keyed by lowercased file stem, which by
// convention is the alert name (DiskSpaceLow.md serves DiskSpaceLow).
type Store struct {
	dir string

	mu    sync.RWMutex
	books map[string]string
}

// New loads the runbook directory. A missing directory is not an error;
// the store just stays empty until one appears.
func New(dir string) *Store {
	s := &Store{dir: dir, books: make(map[string]string)}
	if err := s.Reload(); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Runbook directory not loaded")
	}
	return s
}

// Reload re-reads every markdown file in the directory.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	books := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable runbook")
			continue
		}
		content := string(data)
		if len(content) > maxRunbookLen {
			content = content[:maxRunbookLen]
		}
		stem := strings.TrimSuffix(e.Name(), ".md")
		books[strings.ToLower(stem)] = content
	}

	s.mu.Lock()
	s.books = books
	s.mu.Unlock()
	log.Debug().Int("count", len(books)).Str("dir", s.dir).Msg("Runbooks loaded")
	return nil
}

// ForAlert returns the runbook for an alert name, or "" when none exists.
func (s *Store) ForAlert(alertName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[strings.ToLower(alertName)]
}

// List returns the known runbook names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.books))
	for name := range s.books {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the store when the directory changes, debounced so a burst
// of editor writes triggers one reload. Returns when ctx is cancelled or
// the watcher cannot be created.
func (s *Store) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Runbook watcher unavailable")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("Runbook directory not watchable")
		return
	}

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	debounce := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case debounce <- struct{}{}:
				default:
				}
			})
		case <-debounce:
			if err := s.Reload(); err != nil {
				log.Warn().Err(err).Msg("Runbook reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Runbook watcher error")
		}
	}
}
