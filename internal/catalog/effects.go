package catalog

import (
	"fmt"
	"slices"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

// Effect types shipped with the catalog
const (
	EffectGhostVoteSpent = "ghost_vote_spent"
	EffectProtected      = "protected"
	EffectSoldierSafe    = "soldier_safe"
	EffectStarpass       = "imp_starpass"
	EffectPendingReveal  = "pending_reveal"
	EffectPoisoned       = "poisoned"
	EffectDrunk          = "drunk"
	EffectMisregister    = "misregister"
	EffectRedHerring     = "red_herring"
	EffectSaintMartyr    = "saint_martyr"
)

// Entry types written by catalog handlers
const (
	EntryProtected = "protected"
	EntryStarpass  = "starpass"
)

// Handler priorities. Protection is consulted before the starpass so a
// protected demon never passes.
const (
	prioritySoldier    = 5
	priorityProtection = 10
	priorityStarpass   = 20
)

// pendingRevealOrder wakes a promoted demon right after the demon's own turn
const pendingRevealOrder = 25

var allContexts = []types.Context{types.ContextAlignment, types.ContextTeam, types.ContextRole}

// Effects returns the shipped effect definitions. The role registry is
// consulted to tell minions from other players.
func Effects(roleRegistry *roles.Registry) []effects.Definition {
	return []effects.Definition{
		{
			Type:               types.EffectDead,
			PreventsNomination: true,
			PreventsNightWake:  true,
			CanVote: func(player *types.Player) bool {
				return !player.HasEffect(EffectGhostVoteSpent)
			},
		},
		{Type: EffectGhostVoteSpent},
		{
			Type: EffectProtected,
			Handlers: []effects.IntentHandler{{
				ID:         "monk_protection",
				IntentType: types.IntentKill,
				Priority:   priorityProtection,
				AppliesTo:  demonKillOnOwner,
				Handle:     protect("was protected from the demon"),
			}},
		},
		{
			Type:    EffectSoldierSafe,
			Ability: true,
			Handlers: []effects.IntentHandler{{
				ID:         "soldier_safety",
				IntentType: types.IntentKill,
				Priority:   prioritySoldier,
				AppliesTo:  demonKillOnOwner,
				Handle:     protect("is safe from the demon"),
			}},
		},
		starpass(roleRegistry),
		{
			Type: EffectPendingReveal,
			NightFollowUps: []effects.NightFollowUp{{
				ID:         "learn_new_role",
				NightOrder: pendingRevealOrder,
				ShouldWake: func(_ *types.State, owner *types.Player, _ types.EffectInstance) bool {
					return owner.IsAlive()
				},
			}},
		},
		{Type: EffectPoisoned, Malfunctions: true},
		{Type: EffectDrunk, Malfunctions: true},
		{
			Type:    EffectMisregister,
			Ability: true,
			PerceptionModifiers: []effects.PerceptionModifier{{
				Contexts: allContexts,
				Pinned:   true,
				Modify:   misregister,
			}},
		},
		{
			Type: EffectRedHerring,
			PerceptionModifiers: []effects.PerceptionModifier{{
				Contexts: []types.Context{types.ContextTeam, types.ContextAlignment},
				Modify:   redHerring,
			}},
		},
		{Type: EffectSaintMartyr, Ability: true, Martyrdom: true},
	}
}

func demonKillOnOwner(intent types.Intent, owner *types.Player) bool {
	return intent.Cause == types.CauseDemon && intent.TargetID == owner.ID
}

func protect(message string) func(hc effects.HandlerContext) effects.Result {
	return func(hc effects.HandlerContext) effects.Result {
		return effects.Prevent(types.Changes{Entries: []types.HistoryEntry{{
			Type:    EntryProtected,
			Message: fmt.Sprintf("%s %s", displayName(hc.Owner), message),
			Data: types.Payload{
				"playerId": hc.Owner.ID,
				"effect":   hc.Instance.Type,
				"sourceId": hc.Instance.SourcePlayerID,
			},
		}}})
	}
}

// starpass lets a demon who targets themself hand the demon role to a living minion
func starpass(roleRegistry *roles.Registry) effects.Definition {
	minions := func(state *types.State, owner *types.Player) []types.Player {
		var out []types.Player
		for _, player := range state.AlivePlayers() {
			if player.ID != owner.ID && roleRegistry.IsEvil(player.RoleID) && !roleRegistry.IsDemon(player.RoleID) {
				out = append(out, player)
			}
		}
		return out
	}
	prompt := func(candidates []types.Player, message string) (effects.Prompt, types.Payload) {
		options := make([]effects.PromptOption, len(candidates))
		ids := make([]any, len(candidates))
		for i, candidate := range candidates {
			options[i] = effects.PromptOption{ID: candidate.ID, Label: displayName(&candidate)}
			ids[i] = candidate.ID
		}
		return effects.Prompt{
			Kind:    effects.PromptKindChoosePlayer,
			Title:   "Starpass",
			Message: message,
			Options: options,
		}, types.Payload{"candidates": ids}
	}

	return effects.Definition{
		Type:    EffectStarpass,
		Ability: true,
		Handlers: []effects.IntentHandler{{
			ID:         "starpass",
			IntentType: types.IntentKill,
			Priority:   priorityStarpass,
			AppliesTo: func(intent types.Intent, owner *types.Player) bool {
				return intent.Cause == types.CauseDemon && intent.SourceID == owner.ID && intent.TargetID == owner.ID
			},
			Handle: func(hc effects.HandlerContext) effects.Result {
				candidates := minions(hc.State, hc.Owner)
				if len(candidates) == 0 {
					return effects.Allow()
				}
				p, data := prompt(candidates, "Choose the minion who becomes the demon")
				return effects.RequestUI(p, data)
			},
			Resume: func(hc effects.HandlerContext, data types.Payload, input effects.UserInput) effects.Result {
				choice := input.Choice
				if choice == "" && len(input.PlayerIDs) > 0 {
					choice = input.PlayerIDs[0]
				}
				chosen, ok := hc.State.Player(choice)
				if !ok || !chosen.IsAlive() || !slices.Contains(data.Strings("candidates"), choice) {
					candidates := minions(hc.State, hc.Owner)
					if len(candidates) == 0 {
						return effects.Allow()
					}
					p, next := prompt(candidates, "That player cannot take the demon, choose a living minion")
					return effects.RequestUI(p, next)
				}
				return effects.Allow(types.Changes{
					ChangeRoles: []types.RoleChange{{PlayerID: chosen.ID, RoleID: hc.Owner.RoleID}},
					RemoveEffects: []types.EffectRemoval{
						{SourceID: chosen.ID},
						{PlayerID: hc.Owner.ID, Type: EffectStarpass},
					},
					AddEffects: []types.EffectAddition{
						{PlayerID: chosen.ID, Effect: types.EffectInstance{
							Type:           EffectPendingReveal,
							SourcePlayerID: hc.Owner.ID,
							ExpiresAt:      types.ExpiresEndOfNight,
						}},
						{PlayerID: chosen.ID, Effect: types.EffectInstance{
							Type:      EffectStarpass,
							ExpiresAt: types.ExpiresNever,
						}},
					},
					Entries: []types.HistoryEntry{{
						Type:    EntryStarpass,
						Message: fmt.Sprintf("%s passed the demon to %s", displayName(hc.Owner), displayName(chosen)),
						Data:    types.Payload{"fromId": hc.Owner.ID, "toId": chosen.ID, "roleId": hc.Owner.RoleID},
					}},
				})
			},
		}},
	}
}

// misregister applies only the pinned fields the instance authorizes. Without
// a pinned perception it changes nothing.
func misregister(p types.Perception, _, _ *types.Player, _ *types.State, data types.Payload) types.Perception {
	pinned, ok := data.PerceiveAs()
	if !ok {
		return p
	}
	if pinned.Team != "" && slices.Contains(data.Strings("teams"), pinned.Team) {
		p.Team = pinned.Team
	}
	if pinned.Alignment != "" && slices.Contains(data.Strings("alignments"), string(pinned.Alignment)) {
		p.Alignment = pinned.Alignment
	}
	if pinned.RoleID != "" && slices.Contains(data.Strings("roles"), pinned.RoleID) {
		p.RoleID = pinned.RoleID
	}
	return p
}

// redHerring shows its owner as the demon, but only to the observer it names
func redHerring(p types.Perception, _, observer *types.Player, _ *types.State, data types.Payload) types.Perception {
	if observer == nil || observer.ID != data.String("observerId") {
		return p
	}
	team := data.String("team")
	if team == "" {
		team = "demon"
	}
	return types.Perception{Team: team, Alignment: types.AlignmentEvil}
}

func displayName(player *types.Player) string {
	if player.Name != "" {
		return player.Name
	}
	return player.ID
}
