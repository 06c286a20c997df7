package fstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/marquee-signage/marquee/internal/state"
	"github.com/marquee-signage/marquee/internal/util"
	"github.com/natefinch/atomic"
)

type store struct {
	File  string
	state *state.State
	mu    sync.RWMutex
}

var _ state.Store = &store{}

func New(file string) state.Store {
	return &store{
		File: file,
	}
}

func (fs *store) String() string {
	return fmt.Sprintf("file '%s'", fs.File)
}

func (fs *store) State() state.State {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.state == nil {
		return state.State{}
	}
	return copyState(fs.state)
}

// Load will read the state from the file, a missing file yields a fresh
// state with a new installation id.
func (fs *store) Load() error {
	st := state.State{}
	if _, err := os.Stat(fs.File); err == nil {
		f, err := os.Open(fs.File)
		if err != nil {
			return err
		}
		defer util.IgnoreError(f.Close)
		if err := json.NewDecoder(f).Decode(&st); err != nil {
			return fmt.Errorf("decoding %s: %w", fs, err)
		}
	}
	if st.InstallationID == "" {
		st.InstallationID = uuid.NewString()
	}

	fs.mu.Lock()
	fs.state = &st
	fs.mu.Unlock()
	return nil
}

// Store saves the state to the file
func (fs *store) Store() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.storeLocked()
}

func (fs *store) Update(fn func(s *state.State)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.state == nil {
		fs.state = &state.State{InstallationID: uuid.NewString()}
	}
	next := copyState(fs.state)
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	fs.state = &next
	return fs.storeLocked()
}

func (fs *store) storeLocked() error {
	// Create the path to the file if it doesn't exist.
	dir := filepath.Dir(fs.File)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")

	if err := enc.Encode(fs.state); err != nil {
		return err
	}
	return atomic.WriteFile(fs.File, buf)
}

// copyState detaches the identity so callers can't alias the stored value.
// The last known good config is replaced wholesale on every write, never
// modified in place, so sharing it is safe.
func copyState(s *state.State) state.State {
	c := *s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return c
}
