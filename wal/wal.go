// Package wal implements the single-record write-ahead log each CFT
// replica uses to persist ⟨current_term, voted_for, log⟩ (spec.md §4.1).
// The file holds exactly one record, the latest state, replaced atomically
// on every save: a temp file is written, fsynced, and renamed over the
// live path, and the containing directory is fsynced afterward so the
// rename itself is durable, not just the bytes it points at.
package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Entry is one replicated log entry: an election term paired with an
// opaque command string.
type Entry struct {
	Term    uint64 `json:"term"`
	Command string `json:"command"`
}

// State is the durable tuple a WAL holds.
type State struct {
	Term     uint64  `json:"term"`
	VotedFor *int    `json:"voted_for"`
	Log      []Entry `json:"log"`
}

// WAL persists one replica's durable state under dataDir.
type WAL struct {
	mu   sync.Mutex
	path string
	dir  string
}

// New returns a WAL rooted at dataDir/wal_data_<nodeID>.json, creating
// dataDir if it does not already exist.
func New(nodeID int, dataDir string) (*WAL, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating wal data dir: %w", err)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving wal data dir: %w", err)
	}
	return &WAL{
		path: filepath.Join(abs, fmt.Sprintf("wal_data_%d.json", nodeID)),
		dir:  abs,
	}, nil
}

// Save durably persists term, votedFor and log, returning only once the
// tuple is on disk. Every mutation of the CFT engine's durable state must
// complete a Save before any reply a peer could rely on is sent.
func (w *WAL) Save(term uint64, votedFor *int, log []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := State{Term: term, VotedFor: votedFor, Log: log}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding wal state: %w", err)
	}

	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening wal tmp file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("writing wal tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing wal tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing wal tmp file: %w", err)
	}

	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("renaming wal tmp file: %w", err)
	}

	dirFile, err := os.Open(w.dir)
	if err != nil {
		return fmt.Errorf("opening wal directory: %w", err)
	}
	defer dirFile.Close()
	if err := dirFile.Sync(); err != nil {
		return fmt.Errorf("fsyncing wal directory: %w", err)
	}

	return nil
}

// Load returns the last successfully saved tuple, or ⟨0, nil, empty⟩ if no
// file exists or the live file is corrupt. A corrupt file is treated as
// "no prior state" rather than an error: durability is only promised for
// saves that completed before a crash.
func (w *WAL) Load() (uint64, *int, []Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := os.ReadFile(w.path)
	if err != nil {
		return 0, nil, nil
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return 0, nil, nil
	}
	return state.Term, state.VotedFor, state.Log
}

// Clear removes the WAL file, for test isolation between runs.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := os.Remove(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing wal file: %w", err)
	}
	return nil
}

// Path returns the backing file path, mainly for diagnostics and tests.
func (w *WAL) Path() string {
	return w.path
}
