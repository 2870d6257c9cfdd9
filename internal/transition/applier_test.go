package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/pipeline"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
	"github.com/user/grimoire/internal/wincheck"
)

func newApplier(t *testing.T) *Applier {
	t.Helper()
	effectRegistry, err := effects.Build([]effects.Definition{
		{Type: types.EffectDead, PreventsNightWake: true},
		{Type: "protected", Handlers: []effects.IntentHandler{{
			ID: "protect", IntentType: types.IntentKill, Priority: 10,
			AppliesTo: func(intent types.Intent, owner *types.Player) bool { return intent.TargetID == owner.ID },
			Handle: func(effects.HandlerContext) effects.Result {
				return effects.Prevent(types.Changes{Entries: []types.HistoryEntry{{Type: "protected"}}})
			},
		}}},
		{Type: "pass", Handlers: []effects.IntentHandler{{
			ID: "pass", IntentType: types.IntentKill, Priority: 20,
			AppliesTo: func(intent types.Intent, owner *types.Player) bool {
				return intent.SourceID == owner.ID && intent.TargetID == owner.ID
			},
			Handle: func(effects.HandlerContext) effects.Result {
				return effects.RequestUI(effects.Prompt{Kind: effects.PromptKindChoosePlayer}, nil)
			},
			Resume: func(hc effects.HandlerContext, _ types.Payload, input effects.UserInput) effects.Result {
				return effects.Allow(types.Changes{
					ChangeRoles: []types.RoleChange{{PlayerID: input.Choice, RoleID: hc.Owner.RoleID}},
					AddEffects:  []types.EffectAddition{{PlayerID: input.Choice, Effect: types.EffectInstance{Type: "pass"}}},
				})
			},
		}}},
		{Type: "tonight"},
		{Type: "today"},
		{Type: "mark", Handlers: []effects.IntentHandler{{
			ID: "mark", IntentType: types.IntentKill,
			Handle: func(hc effects.HandlerContext) effects.Result {
				return effects.Allow(types.Changes{AddEffects: []types.EffectAddition{{PlayerID: hc.Owner.ID, Effect: types.EffectInstance{Type: "ghost"}}}})
			},
		}}},
	}, []effects.IntentKind{{
		Type: types.IntentKill,
		OnAllow: func(intent types.Intent, _ *types.State) types.Changes {
			return types.Changes{
				AddEffects: []types.EffectAddition{{PlayerID: intent.TargetID, Effect: types.EffectInstance{Type: types.EffectDead}}},
				Entries:    []types.HistoryEntry{{Type: types.EntryDeath, Data: types.Payload{"playerId": intent.TargetID}}},
			}
		},
	}})
	require.NoError(t, err)

	roleRegistry, err := roles.Build(
		[]roles.Team{{ID: "townsfolk"}, {ID: "minion", Evil: true}, {ID: "demon", Evil: true, Demon: true}},
		[]roles.Definition{{ID: "empath", Team: "townsfolk"}, {ID: "spy", Team: "minion"}, {ID: "imp", Team: "demon"}},
	)
	require.NoError(t, err)

	return New(effectRegistry, roleRegistry,
		pipeline.New(effectRegistry, nil),
		wincheck.New(roleRegistry, effectRegistry, types.AlignmentGood, nil),
		nil)
}

func table() *types.State {
	state := types.NewGameState(
		types.Player{ID: "a", RoleID: "imp", Effects: []types.EffectInstance{{Type: "pass", ExpiresAt: types.ExpiresNever}}},
		types.Player{ID: "b", RoleID: "spy"},
		types.Player{ID: "c", RoleID: "empath"},
		types.Player{ID: "d", RoleID: "empath"},
	)
	state.Phase = types.PhaseNight
	state.Round = 1
	return state
}

func TestCommitAppliesInOrder(t *testing.T) {
	applier := newApplier(t)
	state := table()
	state.Players[2].Effects = []types.EffectInstance{{Type: "tonight", SourcePlayerID: "b", ExpiresAt: types.ExpiresNever}}

	outcome, err := applier.Commit(types.Bundle{Changes: types.Changes{
		Entries:       []types.HistoryEntry{{Type: "swap", Data: types.Payload{"note": "x"}}},
		ChangeRoles:   []types.RoleChange{{PlayerID: "c", RoleID: "spy"}},
		RemoveEffects: []types.EffectRemoval{{SourceID: "b"}},
		// added after the removal, so it survives
		AddEffects: []types.EffectAddition{{PlayerID: "c", Effect: types.EffectInstance{Type: "tonight", SourcePlayerID: "b"}}},
	}}, state)
	require.NoError(t, err)
	require.False(t, outcome.Suspended())

	next := outcome.State
	assert.Equal(t, "spy", next.Players[2].RoleID)
	require.Len(t, next.Players[2].Effects, 1)
	assert.Equal(t, types.ExpiresNever, next.Players[2].Effects[0].ExpiresAt)

	require.Len(t, next.History, 1)
	entry := next.History[0]
	assert.Equal(t, 1, entry.Round)
	require.NotNil(t, entry.StateAfter)
	assert.Equal(t, "spy", entry.StateAfter.Players[2].RoleID)

	// the input state is untouched
	assert.Equal(t, "empath", state.Players[2].RoleID)
	assert.Empty(t, state.History)
}

func TestRemovalRemovesEveryMatch(t *testing.T) {
	applier := newApplier(t)
	state := table()
	state.Players[1].Effects = []types.EffectInstance{{Type: "tonight"}, {Type: "today"}, {Type: "tonight"}}

	outcome, err := applier.Commit(types.Bundle{Changes: types.Changes{
		RemoveEffects: []types.EffectRemoval{{PlayerID: "b", Type: "tonight"}},
	}}, state)
	require.NoError(t, err)

	assert.Equal(t, []types.EffectInstance{{Type: "today"}}, outcome.State.Players[1].Effects)
}

func TestIntentPreventedKeepsBundleEntries(t *testing.T) {
	applier := newApplier(t)
	state := table()
	state.Players[2].Effects = []types.EffectInstance{{Type: "protected"}}

	outcome, err := applier.Commit(types.Bundle{
		Changes: types.Changes{Entries: []types.HistoryEntry{{Type: "demon_chose"}}},
		Intent:  &types.Intent{Type: types.IntentKill, SourceID: "a", TargetID: "c", Cause: types.CauseDemon},
	}, state)
	require.NoError(t, err)

	require.NotNil(t, outcome.Resolution)
	assert.Equal(t, effects.DecisionPrevent, outcome.Resolution.Decision)
	assert.True(t, outcome.State.Players[2].IsAlive())
	require.Len(t, outcome.State.History, 2)
	assert.Equal(t, "demon_chose", outcome.State.History[0].Type)
	assert.Equal(t, "protected", outcome.State.History[1].Type)
}

func TestIntentAllowedKills(t *testing.T) {
	applier := newApplier(t)
	state := table()

	outcome, err := applier.Commit(types.Bundle{
		Intent: &types.Intent{Type: types.IntentKill, SourceID: "a", TargetID: "c", Cause: types.CauseDemon},
	}, state)
	require.NoError(t, err)

	assert.False(t, outcome.State.Players[2].IsAlive())
	assert.Equal(t, types.EntryDeath, outcome.State.History[0].Type)
	assert.Nil(t, outcome.Result)
}

func TestSuspendedCommitAppliesNothing(t *testing.T) {
	applier := newApplier(t)
	state := table()
	bundle := types.Bundle{
		Changes: types.Changes{Entries: []types.HistoryEntry{{Type: "demon_chose"}}},
		Intent:  &types.Intent{Type: types.IntentKill, SourceID: "a", TargetID: "a", Cause: types.CauseDemon},
	}

	outcome, err := applier.Commit(bundle, state)
	require.NoError(t, err)
	require.True(t, outcome.Suspended())
	assert.Same(t, state, outcome.State)
	assert.Empty(t, state.History)

	resumed, err := applier.Resume(*outcome.Pending, effects.UserInput{Choice: "b"}, state)
	require.NoError(t, err)
	require.False(t, resumed.Suspended())

	next := resumed.State
	assert.False(t, next.Players[0].IsAlive())
	assert.Equal(t, "imp", next.Players[1].RoleID)
	assert.True(t, next.Players[1].HasEffect("pass"))
	require.Len(t, next.History, 2)
	assert.Equal(t, "demon_chose", next.History[0].Type)
	assert.Equal(t, types.EntryDeath, next.History[1].Type)
	// a living demon remains, so the game goes on
	assert.Nil(t, resumed.Result)
}

func TestHandlerOutputIsValidated(t *testing.T) {
	applier := newApplier(t)
	state := table()
	state.Players[3].Effects = []types.EffectInstance{{Type: "mark"}}

	_, err := applier.Commit(types.Bundle{
		Intent: &types.Intent{Type: types.IntentKill, TargetID: "c", Cause: types.CauseAbility},
	}, state)
	assert.ErrorIs(t, err, effects.ErrUnknownEffect)
}

func TestPhaseChangesSweepExpiredEffects(t *testing.T) {
	applier := newApplier(t)
	state := table()
	state.Players[1].Effects = []types.EffectInstance{
		{Type: "tonight", ExpiresAt: types.ExpiresEndOfNight},
		{Type: "today", ExpiresAt: types.ExpiresEndOfDay},
	}

	dawn, err := applier.Commit(types.Bundle{
		BeginPhase: types.PhaseDay,
		Changes:    types.Changes{Entries: []types.HistoryEntry{{Type: types.EntryDawn}}},
	}, state)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDay, dawn.State.Phase)
	assert.Equal(t, 1, dawn.State.Round)
	assert.Equal(t, []types.EffectInstance{{Type: "today", ExpiresAt: types.ExpiresEndOfDay}}, dawn.State.Players[1].Effects)

	dusk, err := applier.Commit(types.Bundle{
		BeginPhase: types.PhaseNight,
		Changes:    types.Changes{Entries: []types.HistoryEntry{{Type: types.EntryNightStart}}},
	}, dawn.State)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseNight, dusk.State.Phase)
	assert.Equal(t, 2, dusk.State.Round)
	assert.Empty(t, dusk.State.Players[1].Effects)
	assert.Equal(t, 2, dusk.State.History[1].Round)
}

func TestWinFreezesTheGame(t *testing.T) {
	applier := newApplier(t)
	state := table()

	outcome, err := applier.Commit(types.Bundle{
		Intent: &types.Intent{Type: types.IntentKill, TargetID: "a", Cause: types.CauseExecution},
	}, state)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, types.AlignmentGood, outcome.Result.Winner)

	winner, over := outcome.State.Winner()
	require.True(t, over)
	assert.Equal(t, types.AlignmentGood, winner)
	last := outcome.State.History[len(outcome.State.History)-1]
	assert.Equal(t, types.EntryGameOver, last.Type)

	_, err = applier.Commit(types.Bundle{BeginPhase: types.PhaseNight}, outcome.State)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestValidate(t *testing.T) {
	applier := newApplier(t)
	state := table()

	tests := []struct {
		name   string
		bundle types.Bundle
		err    error
	}{
		{"unknown role", types.Bundle{Changes: types.Changes{ChangeRoles: []types.RoleChange{{PlayerID: "a", RoleID: "wizard"}}}}, roles.ErrUnknownRole},
		{"unknown role player", types.Bundle{Changes: types.Changes{ChangeRoles: []types.RoleChange{{PlayerID: "z", RoleID: "spy"}}}}, pipeline.ErrUnknownPlayer},
		{"unknown effect", types.Bundle{Changes: types.Changes{AddEffects: []types.EffectAddition{{PlayerID: "a", Effect: types.EffectInstance{Type: "cursed"}}}}}, effects.ErrUnknownEffect},
		{"unknown effect player", types.Bundle{Changes: types.Changes{AddEffects: []types.EffectAddition{{PlayerID: "z", Effect: types.EffectInstance{Type: "tonight"}}}}}, pipeline.ErrUnknownPlayer},
		{"empty removal", types.Bundle{Changes: types.Changes{RemoveEffects: []types.EffectRemoval{{}}}}, ErrInvalidRemoval},
		{"unknown removal type", types.Bundle{Changes: types.Changes{RemoveEffects: []types.EffectRemoval{{Type: "cursed"}}}}, effects.ErrUnknownEffect},
		{"unknown target", types.Bundle{Intent: &types.Intent{Type: types.IntentKill, TargetID: "z"}}, pipeline.ErrUnknownPlayer},
		{"unknown source", types.Bundle{Intent: &types.Intent{Type: types.IntentKill, SourceID: "z", TargetID: "a"}}, pipeline.ErrUnknownPlayer},
		{"unknown intent", types.Bundle{Intent: &types.Intent{Type: "curse", TargetID: "a"}}, pipeline.ErrUnknownIntentType},
		{"unknown phase", types.Bundle{BeginPhase: "dusk"}, ErrInvalidPhase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applier.Commit(tt.bundle, state)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Empty(t, state.History)
}
