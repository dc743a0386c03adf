// Package journal keeps a local, append-only record of remediation
// outcomes. Entries are JSON lines chained by SHA-256 so that truncation or
// edits in the middle of the file are detectable.
package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one journaled remediation outcome.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	DeliveryID   string    `json:"delivery_id"`
	IssueType    string    `json:"issue_type"`
	Status       string    `json:"status"`
	DryRun       bool      `json:"dry_run,omitempty"`
	Actions      []string  `json:"actions,omitempty"`
	Fingerprints []string  `json:"fingerprints,omitempty"`
	EntryHash    string    `json:"entry_hash"`
}

// Journal writes hash-chained entries to a JSON-lines file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
}

// Open opens (or creates) the journal at path. The directory is created
// with 0700 and the file with 0600. The last entry's hash is recovered so
// the chain continues across restarts.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: empty path")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}

	prevHash := ""
	if data, err := os.ReadFile(path); err == nil {
		lines := splitLines(data)
		for i := len(lines) - 1; i >= 0; i-- {
			if len(lines[i]) == 0 {
				continue
			}
			var e Entry
			if json.Unmarshal(lines[i], &e) == nil {
				prevHash = e.EntryHash
			}
			break
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{file: f, prevHash: prevHash}, nil
}

// Append writes e, filling in its timestamp if unset and its chain hash.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	hash, err := chainHash(j.prevHash, e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	j.prevHash = hash
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Verify re-walks the chain in the file at path and returns the number of
// entries. It fails on the first entry whose hash does not match.
func Verify(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("journal: read %s: %w", path, err)
	}

	prev := ""
	n := 0
	for i, ln := range splitLines(data) {
		if len(ln) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(ln, &e); err != nil {
			return n, fmt.Errorf("journal: line %d: %w", i+1, err)
		}
		want, err := chainHash(prev, e)
		if err != nil {
			return n, err
		}
		if e.EntryHash != want {
			return n, fmt.Errorf("journal: line %d: chain broken", i+1)
		}
		prev = e.EntryHash
		n++
	}
	return n, nil
}

// chainHash is SHA256(prev + json(e without hash)).
func chainHash(prev string, e Entry) (string, error) {
	e.EntryHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("journal: marshal: %w", err)
	}
	h := sha256.Sum256(append([]byte(prev), raw...))
	return fmt.Sprintf("%x", h), nil
}

func splitLines(data []byte) [][]byte {
	return bytes.Split(bytes.TrimRight(data, "\n"), []byte{'\n'})
}
