// File: control/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dynamic configuration overlay. The store keeps one JSON document,
// answers dotted-path reads and applies dotted-path writes, notifying
// listeners after each change. Reload swaps the whole document from a
// file, which is the hot-reload path.

package control

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Store is a thread-safe JSON configuration document with change
// listeners. Paths use gjson syntax, e.g. "logging.level".
type Store struct {
	mu        sync.RWMutex
	doc       []byte
	listeners []func(path string)
}

// NewStore seeds the store from cfg.
func NewStore(cfg Config) (*Store, error) {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return &Store{doc: doc}, nil
}

// Get resolves a dotted path against the current document.
func (s *Store) Get(path string) gjson.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gjson.GetBytes(s.doc, path)
}

// GetInt returns the integer at path, or fallback when absent.
func (s *Store) GetInt(path string, fallback int64) int64 {
	if r := s.Get(path); r.Exists() {
		return r.Int()
	}
	return fallback
}

// GetString returns the string at path, or fallback when absent.
func (s *Store) GetString(path, fallback string) string {
	if r := s.Get(path); r.Exists() {
		return r.String()
	}
	return fallback
}

// Set writes value at path and notifies listeners. The value must be
// JSON-encodable.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	doc, err := sjson.SetBytes(s.doc, path, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %s: %w", path, err)
	}
	s.doc = doc
	fns := s.listeners
	s.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
	return nil
}

// Reload replaces the whole document with the contents of path and
// notifies listeners with an empty change path.
func (s *Store) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("reload %s: not valid JSON", path)
	}
	s.mu.Lock()
	s.doc = data
	fns := s.listeners
	s.mu.Unlock()

	for _, fn := range fns {
		fn("")
	}
	return nil
}

// OnChange registers fn to run after every Set and Reload, on the
// mutating goroutine, with the changed path (empty for Reload).
func (s *Store) OnChange(fn func(path string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Config unmarshals the current document into a typed Config.
func (s *Store) Config() (Config, error) {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	cfg := DefaultConfig()
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config document: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Export returns a copy of the current document.
func (s *Store) Export() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.doc))
	copy(out, s.doc)
	return out
}
