package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a session id contains
// unsafe path characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent rejects empty strings, path separators, and
// traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend stores exchanges as JSONL files. Storage layout:
//
//	<baseDir>/
//	  ├── sessions.json        # session index
//	  └── <session-id>.jsonl   # exchanges, one JSON object per line
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a file-based archive. If baseDir is empty,
// uses ~/.agentquery/archive.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentquery", "archive")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{
		baseDir: baseDir,
	}, nil
}

// Name identifies the backend kind.
func (f *FileBackend) Name() string { return "file" }

// SaveExchange appends an exchange to its session file and updates the
// index.
func (f *FileBackend) SaveExchange(ctx context.Context, ex *Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrArchiveClosed
	}
	if err := validatePathComponent(ex.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	entriesPath := filepath.Join(f.baseDir, ex.SessionID+".jsonl")
	file, err := os.OpenFile(entriesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		return fmt.Errorf("open exchanges file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write exchange: %w", err)
	}

	index, err := f.loadIndex()
	if err != nil {
		return err
	}

	info := index[ex.SessionID]
	if info == nil {
		info = &SessionInfo{ID: ex.SessionID}
		index[ex.SessionID] = info
	}
	info.ExchangeCount++
	info.UpdatedAt = time.Now().UTC()

	return f.saveIndex(index)
}

// LoadExchanges retrieves all exchanges for a session in order.
func (f *FileBackend) LoadExchanges(ctx context.Context, sessionID string) ([]*Exchange, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrArchiveClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	entriesPath := filepath.Join(f.baseDir, sessionID+".jsonl")
	file, err := os.Open(entriesPath) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("open exchanges file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var exchanges []*Exchange
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ex Exchange
		if err := json.Unmarshal(scanner.Bytes(), &ex); err != nil {
			return nil, fmt.Errorf("parse exchange: %w", err)
		}
		exchanges = append(exchanges, &ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan exchanges: %w", err)
	}

	return exchanges, nil
}

// ListSessions returns all archived sessions, most recent first.
func (f *FileBackend) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrArchiveClosed
	}

	index, err := f.loadIndex()
	if err != nil {
		return nil, err
	}

	sessions := make([]*SessionInfo, 0, len(index))
	for _, info := range index {
		sessions = append(sessions, info)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// DeleteSession removes a session file and its index entry.
func (f *FileBackend) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrArchiveClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	index, err := f.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[sessionID]; !ok {
		return ErrSessionNotFound
	}

	entriesPath := filepath.Join(f.baseDir, sessionID+".jsonl")
	_ = os.Remove(entriesPath) // ignore if already gone

	delete(index, sessionID)
	return f.saveIndex(index)
}

// Close releases the backend. Further calls fail with ErrArchiveClosed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *FileBackend) indexPath() string {
	return filepath.Join(f.baseDir, "sessions.json")
}

func (f *FileBackend) loadIndex() (map[string]*SessionInfo, error) {
	index := make(map[string]*SessionInfo)

	data, err := os.ReadFile(f.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read sessions index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse sessions index: %w", err)
	}
	return index, nil
}

func (f *FileBackend) saveIndex(index map[string]*SessionInfo) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions index: %w", err)
	}
	if err := os.WriteFile(f.indexPath(), data, 0600); err != nil {
		return fmt.Errorf("write sessions index: %w", err)
	}
	return nil
}
