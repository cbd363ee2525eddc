package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// FileStateStore implements domain.AgentStateStore using a JSON file.
// Writers hold an exclusive lock on a sidecar .lock file.
type FileStateStore struct {
	path string
	now  func() time.Time
}

// NewFileStateStore creates a state store at path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path, now: time.Now}
}

// Path returns the state file path.
func (s *FileStateStore) Path() string { return s.path }

// Register saves the running agent.
func (s *FileStateStore) Register(state domain.AgentState) error {
	if state.Version == 0 {
		state.Version = 1
	}
	if state.Mode == "" {
		state.Mode = string(ExecModeUser)
		if os.Geteuid() == 0 {
			state.Mode = string(ExecModeSystem)
		}
	}
	if state.LastHeartbeat == 0 {
		state.LastHeartbeat = s.now().Unix()
	}
	return s.withLock(func() error {
		return s.write(&state)
	})
}

// UpdateHeartbeat updates timestamp for liveness check.
func (s *FileStateStore) UpdateHeartbeat() error {
	return s.withLock(func() error {
		state, err := s.Get()
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("agent not registered")
		}
		state.LastHeartbeat = s.now().Unix()
		return s.write(state)
	})
}

// Get returns the recorded agent, or nil when no state file exists.
func (s *FileStateStore) Get() (*domain.AgentState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", s.path, err)
	}
	return &state, nil
}

// Clear removes the state file. A missing file is not an error.
func (s *FileStateStore) Clear() error {
	return s.withLock(func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

func (s *FileStateStore) write(state *domain.AgentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0600)
}

func (s *FileStateStore) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := lockExclusive(lockFile); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = unlock(lockFile) }()

	return fn()
}

// Ensure FileStateStore implements domain.AgentStateStore.
var _ domain.AgentStateStore = (*FileStateStore)(nil)
