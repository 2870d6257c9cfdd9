package interfaces

import (
	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
)

// MessageSender defines the interface for sending private messages
type MessageSender interface {
	SendMessage(recipient, message string) (string, error)
}

// GameManager defines the interface for game operations
type GameManager interface {
	SeatPlayers(seats []types.Seat) ([]types.Player, error)
	StartNight() (transition.Outcome, error)
	StartDay() (transition.Outcome, error)
	NightQueue() *scheduler.Queue
	NextActor() (scheduler.Turn, bool, error)
	Commit(bundle types.Bundle) (transition.Outcome, error)
	ResolvePrompt(input effects.UserInput) (transition.Outcome, error)
	PendingPrompt() (*transition.Pending, bool)
	CancelPrompt() error
	Perceive(targetID, observerID string, ctx types.Context, overrides map[string]types.PerceptionPatch) (types.Perception, error)
	AmbiguousPlayers(playerIDs []string, ctx types.Context) ([]types.Player, error)
	ApplyPerceptionOverrides(overrides map[string]types.PerceptionPatch) (*types.GameState, error)
	State() *types.GameState
	CanVote(playerID string) (bool, error)
	CanNominate(playerID string) (bool, error)
	SendMessage(playerID string, message string) error
	SendRoleReveals() (int, error)
}
