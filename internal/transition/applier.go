package transition

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/pipeline"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
	"github.com/user/grimoire/internal/wincheck"
)

var (
	// ErrGameOver indicates a commit after the game was decided
	ErrGameOver = errors.New("game is over")
	// ErrInvalidRemoval indicates an effect removal with no filter
	ErrInvalidRemoval = errors.New("effect removal needs a player, type or source")
	// ErrInvalidPhase indicates a bundle starting an unknown phase
	ErrInvalidPhase = errors.New("invalid phase")
)

// Pending is a commit parked on a narrator prompt. Nothing of its bundle
// has been applied.
type Pending struct {
	Bundle     types.Bundle        `json:"bundle"`
	Suspension pipeline.Suspension `json:"suspension"`
}

// Outcome is what a commit produced. A suspended commit carries Pending and
// returns the input state untouched.
type Outcome struct {
	State      *types.State         `json:"-"`
	Resolution *pipeline.Resolution `json:"resolution,omitempty"`
	Pending    *Pending             `json:"pending,omitempty"`
	Result     *wincheck.Result     `json:"result,omitempty"`
}

// Suspended reports whether the commit is waiting on the narrator
func (o Outcome) Suspended() bool {
	return o.Pending != nil
}

// Applier is the only writer of game state
type Applier struct {
	effects  *effects.Registry
	roles    *roles.Registry
	pipeline *pipeline.Pipeline
	win      *wincheck.Evaluator
	logger   *zap.Logger
}

// New creates an applier
func New(effectRegistry *effects.Registry, roleRegistry *roles.Registry, pipe *pipeline.Pipeline, win *wincheck.Evaluator, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		effects:  effectRegistry,
		roles:    roleRegistry,
		pipeline: pipe,
		win:      win,
		logger:   logger,
	}
}

// Commit resolves the bundle's intent, if any, and applies everything in one
// step: role changes, then removals, then additions, then the phase change,
// then history entries. The win check runs on the result.
func (a *Applier) Commit(bundle types.Bundle, state *types.State) (Outcome, error) {
	if _, over := state.Winner(); over {
		return Outcome{}, ErrGameOver
	}
	if err := a.Validate(bundle, state); err != nil {
		return Outcome{}, err
	}
	if bundle.Intent == nil {
		return a.apply(bundle, bundle.Changes, nil, state)
	}

	resolution, err := a.pipeline.Resolve(*bundle.Intent, state)
	if err != nil {
		return Outcome{}, err
	}
	if resolution.Suspended() {
		return a.park(bundle, resolution, state), nil
	}
	return a.apply(bundle, bundle.Changes.Merge(resolution.Changes), &resolution, state)
}

// Resume answers a parked commit's prompt. The handler may ask again, in
// which case a new Pending comes back and still nothing is applied.
func (a *Applier) Resume(pending Pending, input effects.UserInput, state *types.State) (Outcome, error) {
	if _, over := state.Winner(); over {
		return Outcome{}, ErrGameOver
	}
	if err := a.Validate(pending.Bundle, state); err != nil {
		return Outcome{}, err
	}
	resolution, err := a.pipeline.Resume(pending.Suspension.Continuation, input, state)
	if err != nil {
		return Outcome{}, err
	}
	if resolution.Suspended() {
		return a.park(pending.Bundle, resolution, state), nil
	}
	return a.apply(pending.Bundle, pending.Bundle.Changes.Merge(resolution.Changes), &resolution, state)
}

// Validate checks that everything a bundle references exists
func (a *Applier) Validate(bundle types.Bundle, state *types.State) error {
	switch bundle.BeginPhase {
	case "", types.PhaseNight, types.PhaseDay:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPhase, bundle.BeginPhase)
	}
	if bundle.Intent != nil {
		if _, ok := a.effects.Kind(bundle.Intent.Type); !ok {
			return fmt.Errorf("%w: %s", pipeline.ErrUnknownIntentType, bundle.Intent.Type)
		}
		if err := requirePlayer(state, bundle.Intent.TargetID); err != nil {
			return err
		}
		if bundle.Intent.SourceID != "" {
			if err := requirePlayer(state, bundle.Intent.SourceID); err != nil {
				return err
			}
		}
	}
	return a.validateChanges(bundle.Changes, state)
}

func (a *Applier) validateChanges(changes types.Changes, state *types.State) error {
	for _, change := range changes.ChangeRoles {
		if err := requirePlayer(state, change.PlayerID); err != nil {
			return err
		}
		if _, ok := a.roles.Role(change.RoleID); !ok {
			return fmt.Errorf("%w: %s", roles.ErrUnknownRole, change.RoleID)
		}
	}
	for _, removal := range changes.RemoveEffects {
		if removal.IsZero() {
			return ErrInvalidRemoval
		}
		if removal.PlayerID != "" {
			if err := requirePlayer(state, removal.PlayerID); err != nil {
				return err
			}
		}
		if removal.Type != "" {
			if err := a.effects.Validate(types.EffectInstance{Type: removal.Type}); err != nil {
				return err
			}
		}
	}
	for _, addition := range changes.AddEffects {
		if err := requirePlayer(state, addition.PlayerID); err != nil {
			return err
		}
		if err := a.effects.Validate(addition.Effect); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) park(bundle types.Bundle, resolution pipeline.Resolution, state *types.State) Outcome {
	return Outcome{
		State:      state,
		Resolution: &resolution,
		Pending: &Pending{
			Bundle:     bundle,
			Suspension: *resolution.Suspension,
		},
	}
}

func (a *Applier) apply(bundle types.Bundle, changes types.Changes, resolution *pipeline.Resolution, state *types.State) (Outcome, error) {
	// Handler output is checked like narrator input.
	if err := a.validateChanges(changes, state); err != nil {
		return Outcome{}, err
	}

	next := state.Clone()

	for _, change := range changes.ChangeRoles {
		next.Players[next.PlayerIndex(change.PlayerID)].RoleID = change.RoleID
	}

	sweep := sweptExpiry(bundle.BeginPhase)
	removed := 0
	for i := range next.Players {
		player := &next.Players[i]
		kept := player.Effects[:0]
		for _, instance := range player.Effects {
			if removes(changes.RemoveEffects, player.ID, instance) || (sweep != "" && instance.ExpiresAt == sweep) {
				removed++
				continue
			}
			kept = append(kept, instance)
		}
		player.Effects = kept
	}

	for _, addition := range changes.AddEffects {
		effect := addition.Effect.Clone()
		if effect.ExpiresAt == "" {
			effect.ExpiresAt = types.ExpiresNever
		}
		index := next.PlayerIndex(addition.PlayerID)
		next.Players[index].Effects = append(next.Players[index].Effects, effect)
	}

	switch bundle.BeginPhase {
	case types.PhaseNight:
		next.Round++
		next.Phase = types.PhaseNight
	case types.PhaseDay:
		next.Phase = types.PhaseDay
	}

	snapshot := next.Snapshot()
	appended := make([]types.HistoryEntry, 0, len(changes.Entries)+1)
	for _, entry := range changes.Entries {
		entry.Round = next.Round
		entry.Data = entry.Data.Clone()
		entry.StateAfter = snapshot
		appended = append(appended, entry)
	}
	next.History = append(next.History, appended...)

	outcome := Outcome{State: next, Resolution: resolution}
	if result, ok := a.win.Evaluate(next, appended); ok {
		entry := result.Entry()
		entry.Round = next.Round
		entry.StateAfter = snapshot
		next.History = append(next.History, entry)
		outcome.Result = &result
	}

	a.logger.Info("Transition committed",
		zap.Int("round", next.Round),
		zap.String("phase", string(next.Phase)),
		zap.Int("role_changes", len(changes.ChangeRoles)),
		zap.Int("effects_removed", removed),
		zap.Int("effects_added", len(changes.AddEffects)),
		zap.Int("entries", len(appended)))
	return outcome, nil
}

func removes(removals []types.EffectRemoval, playerID string, instance types.EffectInstance) bool {
	for _, removal := range removals {
		if removal.Matches(playerID, instance) {
			return true
		}
	}
	return false
}

// sweptExpiry returns the expiry marker cleared when the phase begins
func sweptExpiry(phase types.Phase) types.Expiry {
	switch phase {
	case types.PhaseDay:
		return types.ExpiresEndOfNight
	case types.PhaseNight:
		return types.ExpiresEndOfDay
	default:
		return ""
	}
}

func requirePlayer(state *types.State, id string) error {
	if _, ok := state.Player(id); !ok {
		return fmt.Errorf("%w: %q", pipeline.ErrUnknownPlayer, id)
	}
	return nil
}
