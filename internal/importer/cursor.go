package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cursor is the persisted import position.
type Cursor struct {
	RunID     string    `json:"run_id"`
	Manifest  string    `json:"manifest"`
	Offset    int       `json:"offset"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
}

// cursorTracker is a concurrency-safe cursor with periodic saves.
type cursorTracker struct {
	mu        sync.Mutex
	cursor    Cursor
	path      string
	saveEvery int
	sinceSave int
	dirty     bool
	logger    *zap.Logger
}

// loadCursor reads the cursor at path. A missing file yields a zero cursor.
func loadCursor(path string, saveEvery int, logger *zap.Logger) (*cursorTracker, error) {
	if saveEvery <= 0 {
		saveEvery = 1
	}
	ct := &cursorTracker{path: path, saveEvery: saveEvery, logger: logger}

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the manifest location
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ct.cursor); err != nil {
			return nil, fmt.Errorf("parse cursor %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}
	return ct, nil
}

// Get returns a copy of the current cursor.
func (ct *cursorTracker) Get() Cursor {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.cursor
}

// Start resets the cursor for a new run and saves it.
func (ct *cursorTracker) Start(runID, manifest string) {
	ct.mu.Lock()
	ct.cursor = Cursor{RunID: runID, Manifest: manifest, UpdatedAt: time.Now()}
	ct.dirty = true
	ct.mu.Unlock()
	ct.forceSave()
}

// Advance moves the offset forward, adding processed and failed counts.
// Saves every saveEvery advanced entries.
func (ct *cursorTracker) Advance(offset, processed, failed int) {
	ct.mu.Lock()
	step := offset - ct.cursor.Offset
	ct.cursor.Offset = offset
	ct.cursor.Processed += processed
	ct.cursor.Failed += failed
	ct.cursor.UpdatedAt = time.Now()
	ct.dirty = true
	ct.sinceSave += step
	shouldSave := ct.sinceSave >= ct.saveEvery
	if shouldSave {
		ct.sinceSave = 0
	}
	ct.mu.Unlock()

	if shouldSave {
		ct.forceSave()
	}
}

// Finish marks the import complete and saves.
func (ct *cursorTracker) Finish() {
	ct.mu.Lock()
	ct.cursor.Done = true
	ct.cursor.UpdatedAt = time.Now()
	ct.dirty = true
	ct.mu.Unlock()
	ct.forceSave()
}

// forceSave writes the cursor through a temp file and rename.
func (ct *cursorTracker) forceSave() {
	ct.mu.Lock()
	if !ct.dirty {
		ct.mu.Unlock()
		return
	}
	data, err := json.MarshalIndent(ct.cursor, "", "  ")
	if err != nil {
		ct.mu.Unlock()
		ct.logger.Error("Cursor marshal failed", zap.Error(err))
		return
	}
	ct.dirty = false
	ct.mu.Unlock()

	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		ct.logger.Error("Cursor write failed", zap.String("path", tmp), zap.Error(err))
		ct.markDirty()
		return
	}
	if err := os.Rename(tmp, ct.path); err != nil {
		ct.logger.Error("Cursor rename failed", zap.String("path", ct.path), zap.Error(err))
		ct.markDirty()
	}
}

func (ct *cursorTracker) markDirty() {
	ct.mu.Lock()
	ct.dirty = true
	ct.mu.Unlock()
}
