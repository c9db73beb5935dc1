// Package enum implements the Enumeration Engine: the
// per-session state machine driving StartDirectoryEnumeration,
// GetDirectoryEnumeration, and EndDirectoryEnumeration.
package enum

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/objfsprojfs/objfsprojfs/internal/bridge"
	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/internal/objectstore"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// State is a session's position in the FRESH → LOADING → READY →
// EXHAUSTED lifecycle.
type State int

const (
	StateFresh State = iota
	StateLoading
	StateReady
	StateExhausted
)

// Config tunes the engine's cache-miss polling and loop-safety fuse.
type Config struct {
	PollInterval time.Duration
	PollDeadline time.Duration
	FuseCeiling  int

	// Match overrides the pattern filter applied to each entry name.
	// internal/host wires the platform's own file-name-match function
	// here; nil falls back to case-insensitive glob matching.
	Match func(pattern, name string) bool
}

// session holds the captured state for one kernel-issued enumeration.
type session struct {
	path      string
	state     State
	entries   types.Listing
	cursor    int
	callCount int
}

// Engine is the Enumeration Engine. A single mutex and condition
// variable serialize access to the session map, so every session has a
// single owner.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	sessions map[string]*session

	cache       *cache.Cache
	objectStore *objectstore.Reader
	bridge      *bridge.Bridge
	cfg         Config
}

// New creates an Engine. objectStore may be nil if no object-store
// namespace is configured.
func New(c *cache.Cache, objectStore *objectstore.Reader, b *bridge.Bridge, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = 5 * time.Second
	}
	if cfg.FuseCeiling <= 0 {
		cfg.FuseCeiling = 100
	}

	e := &Engine{
		sessions:    make(map[string]*session),
		cache:       c,
		objectStore: objectStore,
		bridge:      b,
		cfg:         cfg,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// StartEnum creates a FRESH session for sessionID, enumerating path.
func (e *Engine) StartEnum(sessionID, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[sessionID] = &session{path: path, state: StateFresh}
}

// EndEnum destroys a session.
func (e *Engine) EndEnum(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// Sessions reports how many enumeration sessions are live, for
// diagnostics.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// RestartScan returns a session to FRESH, discarding its captured
// entries and cursor.
func (e *Engine) RestartScan(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return
	}
	s.state = StateFresh
	s.entries = nil
	s.cursor = 0
	s.callCount = 0
}

// Emit is called by the engine for each entry that survives pattern
// filtering. It returns false when the kernel-supplied buffer has no
// room left, at which point Get stops without advancing the cursor so
// the same entry is retried on the next call.
type Emit func(types.FileInfo) bool

// Get advances sessionID's enumeration, loading the directory listing
// on first use and writing matching entries to emit.
func (e *Engine) Get(sessionID, pattern string, emit Emit) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return errNoSession(sessionID)
	}

	s.callCount++
	if s.callCount > e.cfg.FuseCeiling {
		e.mu.Unlock()
		return nil
	}

	for s.state == StateLoading {
		e.cond.Wait()
	}

	if s.state == StateFresh {
		s.state = StateLoading
		path := s.path
		e.mu.Unlock()

		listing := e.load(path)

		e.mu.Lock()
		s.entries = sanitize(listing)
		s.state = StateReady
		e.cond.Broadcast()
	}

	if s.state == StateExhausted {
		e.mu.Unlock()
		return nil
	}

	for s.cursor < len(s.entries) {
		entry := s.entries[s.cursor]
		if !e.match(pattern, entry.Name) {
			s.cursor++
			continue
		}
		if !emit(entry) {
			e.mu.Unlock()
			return nil
		}
		s.cursor++
	}
	s.state = StateExhausted
	e.mu.Unlock()
	return nil
}

// load resolves path's listing from the cache, the object store, or by
// triggering an async fetch and polling up to PollDeadline. It never
// holds the session lock while doing so.
func (e *Engine) load(path string) types.Listing {
	if listing, ok := e.cache.GetListing(path); ok {
		return listing
	}

	if e.objectStore != nil && objectstore.IsObjectPath(path) {
		listing, err := e.objectStore.ReadDir(path)
		if err != nil {
			return nil
		}
		return listing
	}

	e.bridge.FetchListing(path)

	deadline := time.Now().Add(e.cfg.PollDeadline)
	for time.Now().Before(deadline) {
		time.Sleep(e.cfg.PollInterval)
		if listing, ok := e.cache.GetListing(path); ok {
			return listing
		}
	}
	return nil
}

// sanitize drops entries with empty names. Names containing path
// separators are already dropped upstream, in the bridge's listing
// ingest.
func sanitize(listing types.Listing) types.Listing {
	if listing == nil {
		return nil
	}
	out := make(types.Listing, 0, len(listing))
	for _, fi := range listing {
		if fi.Name == "" {
			continue
		}
		out = append(out, fi)
	}
	return out
}

func (e *Engine) match(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if e.cfg.Match != nil {
		return e.cfg.Match(pattern, name)
	}
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

type sessionError struct {
	sessionID string
}

func (e *sessionError) Error() string {
	return "enum: unknown session " + e.sessionID
}

func errNoSession(sessionID string) error {
	return &sessionError{sessionID: sessionID}
}
