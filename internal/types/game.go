package types

// Phase is the part of the day/night cycle the game is in
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhaseNight Phase = "night"
	PhaseDay   Phase = "day"
)

// Expiry marks the phase boundary at which an effect instance is swept
type Expiry string

const (
	ExpiresNever      Expiry = "never"
	ExpiresEndOfNight Expiry = "end_of_night"
	ExpiresEndOfDay   Expiry = "end_of_day"
)

// EffectDead is the effect type that marks a player as dead
const EffectDead = "dead"

// History entry types written by the engine and the session manager
const (
	EntryNightStart = "night_start"
	EntryDawn       = "dawn"
	EntryDeath      = "death"
	EntryExecution  = "execution"
	EntryGameOver   = "game_over"
)

// GameState represents the overall state of one game
type GameState struct {
	Round   int            `json:"round"`
	Phase   Phase          `json:"phase"`
	Players []Player       `json:"players"`
	History []HistoryEntry `json:"history"`
}

// State is the name the engine packages use for GameState
type State = GameState

// NewGameState creates an empty state in the setup phase
func NewGameState(players ...Player) *GameState {
	return &GameState{
		Phase:   PhaseSetup,
		Players: append([]Player(nil), players...),
		History: make([]HistoryEntry, 0),
	}
}

// Player represents one seat at the table
type Player struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Contact string           `json:"contact,omitempty"`
	RoleID  string           `json:"roleId"`
	Effects []EffectInstance `json:"effects"`
}

// EffectInstance is a stateful marker attached to exactly one player
type EffectInstance struct {
	Type           string  `json:"type"`
	SourcePlayerID string  `json:"sourcePlayerId,omitempty"`
	Data           Payload `json:"data,omitempty"`
	ExpiresAt      Expiry  `json:"expiresAt"`
}

// HistoryEntry is an immutable record of something that happened
type HistoryEntry struct {
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Round      int       `json:"round"`
	Data       Payload   `json:"data,omitempty"`
	StateAfter *Snapshot `json:"stateAfter,omitempty"`
}

// Snapshot captures the table right after a transition was committed
type Snapshot struct {
	Round   int      `json:"round"`
	Phase   Phase    `json:"phase"`
	Players []Player `json:"players"`
}

// Seat describes a player to be seated during setup
type Seat struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	RoleID  string `json:"roleId"`
}

// Clone returns a deep copy of the effect instance
func (e EffectInstance) Clone() EffectInstance {
	e.Data = e.Data.Clone()
	return e
}

// Clone returns a deep copy of the player
func (p Player) Clone() Player {
	effects := make([]EffectInstance, len(p.Effects))
	for i, effect := range p.Effects {
		effects[i] = effect.Clone()
	}
	p.Effects = effects
	return p
}

// HasEffect reports whether the player carries at least one instance of the type
func (p *Player) HasEffect(effectType string) bool {
	for _, effect := range p.Effects {
		if effect.Type == effectType {
			return true
		}
	}
	return false
}

// EffectsOfType returns the player's instances of the type in insertion order
func (p *Player) EffectsOfType(effectType string) []EffectInstance {
	var matches []EffectInstance
	for _, effect := range p.Effects {
		if effect.Type == effectType {
			matches = append(matches, effect)
		}
	}
	return matches
}

// IsAlive reports whether the player does not carry the dead effect
func (p *Player) IsAlive() bool {
	return !p.HasEffect(EffectDead)
}

// Clone returns a deep copy of the state. History entries are immutable and
// shared between copies.
func (s *GameState) Clone() *GameState {
	players := make([]Player, len(s.Players))
	for i, player := range s.Players {
		players[i] = player.Clone()
	}
	history := make([]HistoryEntry, len(s.History))
	copy(history, s.History)
	return &GameState{
		Round:   s.Round,
		Phase:   s.Phase,
		Players: players,
		History: history,
	}
}

// Player finds a player by id. The returned pointer must be treated as read-only.
func (s *GameState) Player(id string) (*Player, bool) {
	index := s.PlayerIndex(id)
	if index < 0 {
		return nil, false
	}
	return &s.Players[index], true
}

// PlayerIndex returns the seat index of a player or -1
func (s *GameState) PlayerIndex(id string) int {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// AlivePlayers returns the living players in seat order
func (s *GameState) AlivePlayers() []Player {
	alive := make([]Player, 0, len(s.Players))
	for i := range s.Players {
		if s.Players[i].IsAlive() {
			alive = append(alive, s.Players[i])
		}
	}
	return alive
}

// LastEntry returns the most recent history entry of the given type
func (s *GameState) LastEntry(entryType string) (HistoryEntry, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Type == entryType {
			return s.History[i], true
		}
	}
	return HistoryEntry{}, false
}

// ExecutionSinceDawn reports whether an execution was recorded after the most recent dawn
func (s *GameState) ExecutionSinceDawn() bool {
	for i := len(s.History) - 1; i >= 0; i-- {
		switch s.History[i].Type {
		case EntryExecution:
			return true
		case EntryDawn:
			return false
		}
	}
	return false
}

// Winner returns the winning alignment once a game over entry exists
func (s *GameState) Winner() (Alignment, bool) {
	entry, ok := s.LastEntry(EntryGameOver)
	if !ok {
		return "", false
	}
	return Alignment(entry.Data.String("winner")), true
}

// Snapshot captures the current round, phase and players
func (s *GameState) Snapshot() *Snapshot {
	players := make([]Player, len(s.Players))
	for i, player := range s.Players {
		players[i] = player.Clone()
	}
	return &Snapshot{Round: s.Round, Phase: s.Phase, Players: players}
}
