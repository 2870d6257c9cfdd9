package effects

import (
	"slices"

	"github.com/user/grimoire/internal/types"
)

// Definition is the immutable behavior registered for one effect type.
// Every optional capability is a field that is either set or left nil/empty;
// callers check presence, never reflect.
type Definition struct {
	Type string

	Handlers            []IntentHandler
	PerceptionModifiers []PerceptionModifier
	NightFollowUps      []NightFollowUp

	PreventsVoting     bool
	PreventsNomination bool
	PreventsNightWake  bool
	CanVote            func(player *types.Player) bool
	CanNominate        func(player *types.Player) bool

	// Ability marks effects that carry the owner's role ability. They go inert
	// while the owner carries a Malfunctions effect.
	Ability bool
	// Malfunctions marks poisoned/drunk style effects.
	Malfunctions bool
	// Martyrdom makes evil win when the owner is executed.
	Martyrdom bool
}

// IntentHandler intercepts intents of one type on behalf of the player owning the effect
type IntentHandler struct {
	ID         string
	IntentType types.IntentType
	// Priority orders handlers; lower runs earlier.
	Priority int
	// AppliesTo filters candidates. Nil applies to every intent of IntentType.
	AppliesTo func(intent types.Intent, owner *types.Player) bool
	Handle    func(hc HandlerContext) Result
	// Resume finishes a decision that Handle suspended with RequestUI.
	Resume func(hc HandlerContext, data types.Payload, input UserInput) Result
}

// HandlerContext is what a handler sees while deciding
type HandlerContext struct {
	Intent   types.Intent
	Owner    *types.Player
	Instance types.EffectInstance
	State    *types.State
}

// PerceptionModifier alters how the owner appears in the declared contexts
type PerceptionModifier struct {
	Contexts []types.Context
	// ObserverRoles restricts the modifier to observers holding one of these roles.
	ObserverRoles []string
	// Pinned modifiers read the perceiveAs slot that narrator overrides fill.
	Pinned bool
	Modify func(p types.Perception, target, observer *types.Player, state *types.State, data types.Payload) types.Perception
}

// AppliesTo reports whether the modifier runs for the context and observer
func (m PerceptionModifier) AppliesTo(ctx types.Context, observer *types.Player) bool {
	if !m.HasContext(ctx) {
		return false
	}
	if len(m.ObserverRoles) == 0 {
		return true
	}
	return observer != nil && slices.Contains(m.ObserverRoles, observer.RoleID)
}

// HasContext reports whether the modifier declared the context
func (m PerceptionModifier) HasContext(ctx types.Context) bool {
	return slices.Contains(m.Contexts, ctx)
}

// NightFollowUp is an extra night wake owned by an effect rather than a role
type NightFollowUp struct {
	ID         string
	NightOrder int
	ShouldWake func(state *types.State, owner *types.Player, instance types.EffectInstance) bool
}

// IntentKind describes what an intent does once every handler allowed it
type IntentKind struct {
	Type    types.IntentType
	OnAllow func(intent types.Intent, state *types.State) types.Changes
}
