package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kstost/aiexecode/llm"
)

// SessionRecord is the durable form of one session: everything needed to
// resume the conversation or reconstruct its display log.
type SessionRecord struct {
	SessionID        string      `json:"session_id"`
	Mission          string      `json:"mission"`
	StartedAt        time.Time   `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	MissionSolved    bool        `json:"mission_solved"`
	IterationCount   int         `json:"iteration_count"`
	ToolUsageHistory []ToolUsage `json:"tool_usage_history"`
	Transcript       []llm.Item  `json:"transcript"`
}

const sessionsFileName = "sessions.json"

// Store persists session records as a single JSON array file, capped at
// the most recent retention sessions. Every save rewrites the whole file
// through a temp file and rename, so readers never observe a partially
// written store.
type Store struct {
	dir       string
	retention int
}

// NewStore creates a store rooted at dir keeping the last retention
// sessions (minimum 1).
func NewStore(dir string, retention int) *Store {
	if retention < 1 {
		retention = 1
	}
	return &Store{dir: dir, retention: retention}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, sessionsFileName)
}

// Load reads all stored session records. A missing file is an empty store.
func (s *Store) Load() ([]SessionRecord, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	var records []SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return records, nil
}

// Find returns the stored record with the given session id.
func (s *Store) Find(sessionID string) (*SessionRecord, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].SessionID == sessionID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("session %s not found", sessionID)
}

// Save upserts rec into the store, replacing any record with the same
// session id, then truncates to the retention cap and atomically rewrites
// the file.
func (s *Store) Save(rec SessionRecord) error {
	records, err := s.Load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].SessionID == rec.SessionID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	if len(records) > s.retention {
		records = records[len(records)-s.retention:]
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, sessionsFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("save sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("save sessions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}
