package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

// IntegrityReason explains why an integrity check failed.
type IntegrityReason string

const (
	ReasonNotRead  IntegrityReason = "not_read"
	ReasonDeleted  IntegrityReason = "deleted"
	ReasonModified IntegrityReason = "modified_externally"
)

// IntegrityError is returned when a file may not be safely edited.
type IntegrityError struct {
	Path   string
	Reason IntegrityReason
}

func (e *IntegrityError) Error() string {
	switch e.Reason {
	case ReasonNotRead:
		return fmt.Sprintf("file %s has not been read in this session; read it before editing", e.Path)
	case ReasonDeleted:
		return fmt.Sprintf("file %s no longer exists on disk", e.Path)
	case ReasonModified:
		return fmt.Sprintf("file %s was modified externally since it was last read", e.Path)
	}
	return fmt.Sprintf("file %s failed integrity check", e.Path)
}

// Snapshot is the last known-good content of a file as read by the agent,
// kept so the UI and session history can show before/after diffs.
type Snapshot struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IntegrityGuard prevents edits to files whose tracked content is stale.
// One guard exists per session; the model may hold an outdated in-context
// view of a file (edited by a prior step, or changed by an external
// process), and the guard converts that hazard into an explicit,
// recoverable error instead of a silent overwrite.
//
// The hash store and the snapshot store are independent: hashes gate
// edits, snapshots feed display. Hashes are never persisted to disk.
type IntegrityGuard struct {
	mu        sync.Mutex
	hashes    map[string]string
	snapshots map[string]Snapshot
}

// NewIntegrityGuard creates an empty guard.
func NewIntegrityGuard() *IntegrityGuard {
	return &IntegrityGuard{
		hashes:    make(map[string]string),
		snapshots: make(map[string]Snapshot),
	}
}

func contentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// TrackRead records the hash of content as the path's current known-good
// state. Called after every successful read or write.
func (g *IntegrityGuard) TrackRead(path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hashes[path] = contentHash([]byte(content))
}

// Tracked reports whether the path has been read in this session.
func (g *IntegrityGuard) Tracked(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.hashes[path]
	return ok
}

// AssertIntegrity fails if the path was never tracked, the file was
// deleted, or its on-disk content no longer matches the recorded hash.
// Must be called immediately before any edit-class tool writes.
func (g *IntegrityGuard) AssertIntegrity(path string) error {
	g.mu.Lock()
	recorded, ok := g.hashes[path]
	g.mu.Unlock()

	if !ok {
		return &IntegrityError{Path: path, Reason: ReasonNotRead}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &IntegrityError{Path: path, Reason: ReasonDeleted}
		}
		return fmt.Errorf("integrity check for %s: %w", path, err)
	}

	if contentHash(data) != recorded {
		return &IntegrityError{Path: path, Reason: ReasonModified}
	}
	return nil
}

// SaveSnapshot stores the current content for display purposes. Saved on
// every read, write, and before any edit attempt (even pre-approval), so
// rejected or failed edits still have a snapshot available.
func (g *IntegrityGuard) SaveSnapshot(path, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[path] = Snapshot{Content: content, Timestamp: time.Now()}
}

// GetSnapshot returns the stored snapshot for path, if any.
func (g *IntegrityGuard) GetSnapshot(path string) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.snapshots[path]
	return s, ok
}
