package game

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
)

// Session is everything needed to pick a game back up: the state, tonight's
// queue and the prompt the narrator still owes an answer to
type Session struct {
	State   *types.GameState    `json:"state"`
	Queue   *scheduler.Queue    `json:"queue,omitempty"`
	Pending *transition.Pending `json:"pending,omitempty"`
}

// GameStateStorage handles persistence of the session
type GameStateStorage struct {
	savePath  string
	stateLock sync.RWMutex
}

// NewGameStateStorage creates a new game state storage
func NewGameStateStorage(savePath string) *GameStateStorage {
	// Create data directory if it doesn't exist
	dir := filepath.Dir(savePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		// If we can't create the directory, we'll just use the default path
		savePath = "./data/game_state.json"
	}

	return &GameStateStorage{
		savePath: savePath,
	}
}

// SaveSession writes the session to disk
func (gss *GameStateStorage) SaveSession(session Session) error {
	gss.stateLock.Lock()
	defer gss.stateLock.Unlock()

	// Create directory if it doesn't exist
	dir := filepath.Dir(gss.savePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}

	// Write to a sibling file first so a crash never leaves half a session
	tmp := gss.savePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write game state: %w", err)
	}
	if err := os.Rename(tmp, gss.savePath); err != nil {
		return fmt.Errorf("failed to write game state: %w", err)
	}

	return nil
}

// LoadSession reads the session from disk. A missing file yields a fresh
// game in setup.
func (gss *GameStateStorage) LoadSession() (Session, error) {
	gss.stateLock.RLock()
	defer gss.stateLock.RUnlock()

	if _, err := os.Stat(gss.savePath); os.IsNotExist(err) {
		return Session{State: types.NewGameState()}, nil
	}

	data, err := os.ReadFile(gss.savePath)
	if err != nil {
		return Session{}, fmt.Errorf("failed to read game state file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("failed to parse game state: %w", err)
	}

	if session.State == nil {
		session.State = types.NewGameState()
	}
	if session.State.Phase == "" {
		session.State.Phase = types.PhaseSetup
	}
	if session.State.History == nil {
		session.State.History = make([]types.HistoryEntry, 0)
	}

	return session, nil
}
