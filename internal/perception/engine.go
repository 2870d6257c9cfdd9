package perception

import (
	"sort"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

// Engine computes how players appear to each other. It only reads state.
type Engine struct {
	effects *effects.Registry
	roles   *roles.Registry
}

// NewEngine creates a perception engine over the given registries
func NewEngine(effectRegistry *effects.Registry, roleRegistry *roles.Registry) *Engine {
	return &Engine{effects: effectRegistry, roles: roleRegistry}
}

// TrueIdentity returns the player's actual role, team and alignment
func (e *Engine) TrueIdentity(player *types.Player) types.Perception {
	identity := types.Perception{RoleID: player.RoleID, Alignment: types.AlignmentGood}
	if team, ok := e.roles.TeamOf(player.RoleID); ok {
		identity.Team = team.ID
		if team.Evil {
			identity.Alignment = types.AlignmentEvil
		}
	}
	return identity
}

// Perceive returns how target appears to observer in ctx. Modifiers run in
// the order the target's effect instances were added; a field a later
// modifier sets overrides an earlier one. observer may be nil for
// narrator-side checks.
func (e *Engine) Perceive(target, observer *types.Player, ctx types.Context, state *types.State) types.Perception {
	result := e.TrueIdentity(target)
	for _, instance := range target.Effects {
		def := e.effects.MustLookup(instance.Type)
		if len(def.PerceptionModifiers) == 0 || !effects.Active(e.effects, target, def) {
			continue
		}
		for _, modifier := range def.PerceptionModifiers {
			if modifier.Modify == nil || !modifier.AppliesTo(ctx, observer) {
				continue
			}
			modified := modifier.Modify(result, target, observer, state, instance.Data)
			result = overlay(result, modified)
		}
	}
	return result
}

// overlay keeps fields of base the modifier left empty
func overlay(base, modified types.Perception) types.Perception {
	return types.PerceptionPatch{
		RoleID:    modified.RoleID,
		Team:      modified.Team,
		Alignment: modified.Alignment,
	}.Apply(base)
}

// AmbiguousPlayers returns the players whose appearance in ctx depends on a
// modifier, whether or not that modifier currently changes anything
func (e *Engine) AmbiguousPlayers(players []types.Player, ctx types.Context) []types.Player {
	var ambiguous []types.Player
	for i := range players {
		if e.isAmbiguous(&players[i], ctx) {
			ambiguous = append(ambiguous, players[i])
		}
	}
	return ambiguous
}

// isAmbiguous skips ability effects while their owner malfunctions, the same
// instances Perceive skips
func (e *Engine) isAmbiguous(player *types.Player, ctx types.Context) bool {
	for _, instance := range player.Effects {
		def := e.effects.MustLookup(instance.Type)
		if !effects.Active(e.effects, player, def) {
			continue
		}
		for _, modifier := range def.PerceptionModifiers {
			if modifier.HasContext(ctx) {
				return true
			}
		}
	}
	return false
}

// ApplyOverrides returns a copy of state in which every effect of each listed
// player with a Pinned modifier has its pinned perception patched. The source
// state is untouched and unknown player ids are ignored. Applying the same
// overrides twice yields the same state.
func (e *Engine) ApplyOverrides(state *types.State, overrides map[string]types.PerceptionPatch) *types.State {
	derived := state.Clone()

	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		patch := overrides[id]
		if patch.IsZero() {
			continue
		}
		index := derived.PlayerIndex(id)
		if index < 0 {
			continue
		}
		player := &derived.Players[index]
		for i, instance := range player.Effects {
			if !readsPinned(e.effects.MustLookup(instance.Type)) {
				continue
			}
			player.Effects[i].Data = instance.Data.WithPerceiveAs(patch)
		}
	}
	return derived
}

func readsPinned(def *effects.Definition) bool {
	for _, modifier := range def.PerceptionModifiers {
		if modifier.Pinned {
			return true
		}
	}
	return false
}
