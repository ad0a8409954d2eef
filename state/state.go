package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fileName = "forwarded.jsonl"

// Tracker remembers which messages were already forwarded so a replay or a
// restarted watcher does not notify twice.
type Tracker interface {
	AlreadyForwarded(hash string) bool
	MarkForwarded(rec Record) error
	Snapshot() Snapshot
	Close() error
}

// Record is one forwarded message.
type Record struct {
	Hash        string    `json:"hash"`
	MessageID   string    `json:"message_id,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	ForwardedAt time.Time `json:"forwarded_at"`
}

type Snapshot struct {
	Forwarded int
}

type MemoryTracker struct {
	mu        sync.RWMutex
	forwarded map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{forwarded: make(map[string]Record)}
}

func (m *MemoryTracker) AlreadyForwarded(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.forwarded[hash]
	m.mu.RUnlock()
	return ok
}

// remember stores rec and reports whether it was new.
func (m *MemoryTracker) remember(rec Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.forwarded[rec.Hash]; exists {
		return false
	}
	m.forwarded[rec.Hash] = rec
	return true
}

func (m *MemoryTracker) MarkForwarded(rec Record) error {
	if rec.Hash == "" {
		return nil
	}
	m.remember(rec)
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.forwarded)
	m.mu.RUnlock()
	return Snapshot{Forwarded: count}
}

func (m *MemoryTracker) Close() error {
	return nil
}

// FileTracker appends forwarded records to a JSON lines file in the state
// directory and loads them again on start.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

// NewFileTracker loads stateDir/forwarded.jsonl. With persist false (dry
// runs) new records are kept in memory only.
func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, fileName),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 16*1024)
	}

	return tracker, nil
}

func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if rec.Hash == "" {
			continue
		}
		f.remember(rec)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

// MarkForwarded records rec. Each record is flushed right away: a watcher
// may be killed at any time and must not notify twice after a restart.
func (f *FileTracker) MarkForwarded(rec Record) error {
	if rec.Hash == "" {
		return nil
	}
	if rec.ForwardedAt.IsZero() {
		rec.ForwardedAt = time.Now().UTC()
	}
	if !f.remember(rec) || !f.persist {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}

	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
