package effects

import "github.com/user/grimoire/internal/types"

// Malfunctioning reports whether the player carries a poisoned/drunk style effect
func Malfunctioning(r *Registry, player *types.Player) bool {
	for _, instance := range player.Effects {
		if r.MustLookup(instance.Type).Malfunctions {
			return true
		}
	}
	return false
}

// Active reports whether a definition's behavior currently applies to its owner.
// Ability effects are inert while the owner malfunctions.
func Active(r *Registry, owner *types.Player, def *Definition) bool {
	return !def.Ability || !Malfunctioning(r, owner)
}

// CanVote folds the voting restrictions of every active effect on the player
func CanVote(r *Registry, player *types.Player) bool {
	for _, instance := range player.Effects {
		def := r.MustLookup(instance.Type)
		if !Active(r, player, def) {
			continue
		}
		if def.PreventsVoting {
			return false
		}
		if def.CanVote != nil && !def.CanVote(player) {
			return false
		}
	}
	return true
}

// CanNominate folds the nomination restrictions of every active effect on the player
func CanNominate(r *Registry, player *types.Player) bool {
	for _, instance := range player.Effects {
		def := r.MustLookup(instance.Type)
		if !Active(r, player, def) {
			continue
		}
		if def.PreventsNomination {
			return false
		}
		if def.CanNominate != nil && !def.CanNominate(player) {
			return false
		}
	}
	return true
}

// PreventsNightWake reports whether any active effect keeps the player asleep
func PreventsNightWake(r *Registry, player *types.Player) bool {
	for _, instance := range player.Effects {
		def := r.MustLookup(instance.Type)
		if def.PreventsNightWake && Active(r, player, def) {
			return true
		}
	}
	return false
}

// Validate checks that every effect instance and addition references a registered type
func (r *Registry) Validate(instances ...types.EffectInstance) error {
	for _, instance := range instances {
		if _, ok := r.Lookup(instance.Type); !ok {
			return &UnknownEffectError{Type: instance.Type}
		}
	}
	return nil
}

// UnknownEffectError names the unregistered type
type UnknownEffectError struct {
	Type string
}

func (e *UnknownEffectError) Error() string {
	return ErrUnknownEffect.Error() + ": " + e.Type
}

func (e *UnknownEffectError) Unwrap() error { return ErrUnknownEffect }
