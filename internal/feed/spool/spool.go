// Package spool serves the feed from a directory of captured window
// snapshots. page-0000.json is the newest screenful, higher numbers are
// older ones. An external capture agent keeps rewriting the files.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"beer_counter/internal/feed"
)

const pagePrefix = "page-"

// Source implements feed.Source over a spool directory.
type Source struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	page     int
	watching bool
	cache    map[int][]feed.Message
}

var _ feed.Source = (*Source)(nil)

func New(dir string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{dir: dir, log: logger, cache: make(map[int][]feed.Message)}
}

// PagePath is the snapshot file for page n.
func PagePath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%04d.json", pagePrefix, n))
}

// Watch caches decoded pages and drops a page whenever its file changes.
// Without Watch every ListVisible reads from disk.
func (s *Source) Watch(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	s.mu.Lock()
	s.watching = true
	s.mu.Unlock()
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.watching = false
				s.cache = make(map[int][]feed.Message)
				s.mu.Unlock()
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.invalidate(evt.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("spool watcher error", "dir", s.dir, "err", err)
			}
		}
	}()
	return nil
}

func (s *Source) invalidate(path string) {
	n, ok := pageNumber(filepath.Base(path))
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.cache, n)
	s.mu.Unlock()
	s.log.Debug("spool page changed", "page", n)
}

func pageNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, pagePrefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix), ".json"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListVisible returns the page at the current scroll position. A missing
// newest page is an empty feed, not an error.
func (s *Source) ListVisible(ctx context.Context) ([]feed.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.load(s.page)
	if errors.Is(err, fs.ErrNotExist) {
		return []feed.Message{}, nil
	}
	return msgs, err
}

// RevealOlder moves to the next older page when one exists. At the oldest
// page it keeps showing the same window.
func (s *Source) RevealOlder(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(PagePath(s.dir, s.page+1)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	s.page++
	return nil
}

func (s *Source) ScrollToLatest(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.page = 0
	s.mu.Unlock()
	return nil
}

// Page reports the current scroll position.
func (s *Source) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// load must be called with mu held.
func (s *Source) load(n int) ([]feed.Message, error) {
	if msgs, ok := s.cache[n]; ok && s.watching {
		return msgs, nil
	}
	raw, err := os.ReadFile(PagePath(s.dir, n))
	if err != nil {
		return nil, err
	}
	msgs, err := feed.DecodeWindow(raw)
	if err != nil {
		return nil, fmt.Errorf("spool page %d: %w", n, err)
	}
	if s.watching {
		s.cache[n] = msgs
	}
	return msgs, nil
}

// WritePage stores msgs as page n atomically.
func WritePage(dir string, n int, msgs []feed.Message) error {
	raw, err := feed.EncodeWindow(msgs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".page-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), PagePath(dir, n))
}
