// Package state remembers which messages already had their reply extracted,
// so a rerun over the same archive or folder only emits new replies.
package state

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mbox-reply-parser/model"
)

const (
	// FileName is the state file kept inside the state directory.
	FileName = "extracted.jsonl"
	// RecordVersion is written into every new record.
	RecordVersion = 1
)

// ErrUnsupportedVersion is returned for records written by a newer release.
var ErrUnsupportedVersion = errors.New("unsupported state record version")

// Mode selects whether a FileTracker may write to disk.
type Mode int

const (
	ReadWrite Mode = iota
	// ReadOnly loads existing records and keeps new marks in memory only.
	// Nothing is created on disk, not even the state directory.
	ReadOnly
)

// Tracker answers whether a message hash was already extracted.
type Tracker interface {
	Seen(hash string) bool
	MarkExtracted(reply model.Reply) error
	Snapshot() Snapshot
}

// Snapshot counts tracked hashes. Loaded is the share read from disk at start.
type Snapshot struct {
	Extracted int
	Loaded    int
}

// Record is one line of the state file. A record without a version is read
// as RecordVersion.
type Record struct {
	Version     int       `json:"v,omitempty"`
	Hash        string    `json:"hash"`
	MessageID   string    `json:"message_id"`
	ExtractedAt time.Time `json:"extracted_at,omitzero"`
}

// ReadRecords decodes a state file. Blank lines and records without a hash
// are skipped.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("parse state line %d: %w", line, err)
		}
		switch {
		case rec.Version == 0:
			rec.Version = RecordVersion
		case rec.Version > RecordVersion:
			return nil, fmt.Errorf("state line %d: %w %d", line, ErrUnsupportedVersion, rec.Version)
		}
		if rec.Hash == "" {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	return records, nil
}

// MemoryTracker keeps hashes for the lifetime of the process.
type MemoryTracker struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
	loaded int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{hashes: make(map[string]struct{})}
}

func (m *MemoryTracker) Seen(hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hashes[hash]
	return ok
}

func (m *MemoryTracker) MarkExtracted(reply model.Reply) error {
	m.add(reply.Hash)
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Extracted: len(m.hashes), Loaded: m.loaded}
}

// add reports whether hash was new.
func (m *MemoryTracker) add(hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[hash]; ok {
		return false
	}
	m.hashes[hash] = struct{}{}
	return true
}

// FileTracker appends one Record per extracted reply to <dir>/extracted.jsonl.
// The file is opened on the first write, so a run that extracts nothing
// leaves the directory untouched.
type FileTracker struct {
	hashes *MemoryTracker
	dir    string
	path   string
	mode   Mode
	now    func() time.Time

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewFileTracker loads the records already stored in dir.
func NewFileTracker(dir string, mode Mode) (*FileTracker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	t := &FileTracker{
		hashes: NewMemoryTracker(),
		dir:    dir,
		path:   filepath.Join(dir, FileName),
		mode:   mode,
		now:    time.Now,
	}

	records, err := t.readFile()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		t.hashes.add(rec.Hash)
	}
	t.hashes.loaded = len(t.hashes.hashes)

	return t, nil
}

func (t *FileTracker) readFile() ([]Record, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	return ReadRecords(f)
}

// Path returns the location of the state file.
func (t *FileTracker) Path() string {
	return t.path
}

func (t *FileTracker) Seen(hash string) bool {
	return t.hashes.Seen(hash)
}

func (t *FileTracker) Snapshot() Snapshot {
	return t.hashes.Snapshot()
}

// MarkExtracted records reply.Hash. Already known hashes are not written again.
func (t *FileTracker) MarkExtracted(reply model.Reply) error {
	if !t.hashes.add(reply.Hash) || t.mode == ReadOnly {
		return nil
	}

	line, err := json.Marshal(Record{
		Version:     RecordVersion,
		Hash:        reply.Hash,
		MessageID:   reply.MessageID,
		ExtractedAt: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	w, err := t.appender()
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	return nil
}

// appender must be called with t.mu held.
func (t *FileTracker) appender() (*bufio.Writer, error) {
	if t.closed {
		return nil, errors.New("state tracker is closed")
	}
	if t.writer != nil {
		return t.writer, nil
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	t.file = f
	t.writer = bufio.NewWriterSize(f, 64*1024)
	return t.writer, nil
}

// Flush writes buffered records to disk.
func (t *FileTracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *FileTracker) flushLocked() error {
	if t.writer == nil {
		return nil
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file. Later marks fail.
func (t *FileTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.file == nil {
		return nil
	}

	err := t.flushLocked()
	if cerr := t.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close state file: %w", cerr)
	}
	t.file, t.writer = nil, nil
	return err
}
