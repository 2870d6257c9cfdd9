package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

func rank(v int) *int { return &v }

func registries(t *testing.T) (*roles.Registry, *effects.Registry) {
	t.Helper()
	effectRegistry, err := effects.Build([]effects.Definition{
		{Type: types.EffectDead, PreventsNightWake: true},
		{Type: "poisoned", Malfunctions: true},
		{
			Type: "pending_reveal",
			NightFollowUps: []effects.NightFollowUp{{
				ID: "reveal", NightOrder: 1,
				ShouldWake: func(_ *types.State, owner *types.Player, _ types.EffectInstance) bool {
					return owner.IsAlive()
				},
			}},
		},
		{
			Type:           "late_reveal",
			NightFollowUps: []effects.NightFollowUp{{ID: "reveal", NightOrder: 30}},
		},
		{
			Type:           "inert_follow_up",
			Ability:        true,
			NightFollowUps: []effects.NightFollowUp{{ID: "inert", NightOrder: 2}},
		},
	}, nil)
	require.NoError(t, err)

	roleRegistry, err := roles.Build(
		[]roles.Team{{ID: "townsfolk"}, {ID: "minion", Evil: true}, {ID: "demon", Evil: true, Demon: true}},
		[]roles.Definition{
			{ID: "poisoner", Team: "minion", NightOrder: rank(17)},
			{ID: "monk", Team: "townsfolk", NightOrder: rank(12), ShouldWake: func(state *types.State, _ *types.Player) bool {
				return state.Round > 1
			}},
			{ID: "imp", Team: "demon", NightOrder: rank(24), ShouldWake: func(state *types.State, _ *types.Player) bool {
				return state.Round > 1
			}},
			{ID: "empath", Team: "townsfolk", NightOrder: rank(36)},
			{ID: "soldier", Team: "townsfolk"},
		},
	)
	require.NoError(t, err)
	return roleRegistry, effectRegistry
}

func playerIDs(turns []Turn) []string {
	ids := make([]string, len(turns))
	for i, turn := range turns {
		ids[i] = turn.PlayerID
	}
	return ids
}

func TestBuildOrdersByRank(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(
		types.Player{ID: "e", RoleID: "empath"},
		types.Player{ID: "i", RoleID: "imp"},
		types.Player{ID: "s", RoleID: "soldier"},
		types.Player{ID: "m", RoleID: "monk"},
		types.Player{ID: "p", RoleID: "poisoner"},
	)
	state.Round = 2

	queue := Build(state, roleRegistry, effectRegistry)
	assert.Equal(t, []string{"m", "p", "i", "e"}, playerIDs(queue.Turns))
	assert.Equal(t, 2, queue.Round)

	state.Round = 1
	queue = Build(state, roleRegistry, effectRegistry)
	assert.Equal(t, []string{"p", "e"}, playerIDs(queue.Turns))
}

func TestBuildSkipsSleepingPlayers(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(
		types.Player{ID: "p", RoleID: "poisoner", Effects: []types.EffectInstance{{Type: types.EffectDead}}},
		types.Player{ID: "e", RoleID: "empath"},
	)

	queue := Build(state, roleRegistry, effectRegistry)
	assert.Equal(t, []string{"e"}, playerIDs(queue.Turns))
}

func TestBuildIncludesFollowUps(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(
		types.Player{ID: "p", RoleID: "poisoner"},
		types.Player{ID: "n", RoleID: "imp", Effects: []types.EffectInstance{{Type: "pending_reveal"}}},
		types.Player{ID: "x", RoleID: "soldier", Effects: []types.EffectInstance{{Type: "inert_follow_up"}, {Type: "poisoned"}}},
	)
	state.Round = 1

	queue := Build(state, roleRegistry, effectRegistry)
	require.Len(t, queue.Turns, 2)
	assert.Equal(t, Turn{PlayerID: "n", RoleID: "imp", EffectType: "pending_reveal", FollowUp: "reveal", Rank: 1}, queue.Turns[0])
	assert.Equal(t, "p", queue.Turns[1].PlayerID)
}

func TestBuildAfterGameOver(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(types.Player{ID: "p", RoleID: "poisoner"})
	state.History = append(state.History, types.HistoryEntry{Type: types.EntryGameOver, Data: types.Payload{"winner": "good"}})

	queue := Build(state, roleRegistry, effectRegistry)
	assert.True(t, queue.Done())
	assert.Empty(t, queue.Turns)
}

func TestQueueStepping(t *testing.T) {
	queue := &Queue{Turns: []Turn{{PlayerID: "a"}, {PlayerID: "b"}}}

	current, ok := queue.Current()
	require.True(t, ok)
	assert.Equal(t, "a", current.PlayerID)
	assert.Equal(t, []string{"a", "b"}, playerIDs(queue.Remaining()))

	next, ok, err := queue.Advance()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", next.PlayerID)
	assert.Equal(t, []string{"b"}, playerIDs(queue.Remaining()))

	_, ok, err = queue.Advance()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, queue.Done())
	assert.Nil(t, queue.Remaining())

	_, _, err = queue.Advance()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	var missing *Queue
	assert.True(t, missing.Done())
	_, ok = missing.Current()
	assert.False(t, ok)
}

func TestRefreshDropsDeadAndAddsFollowUps(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(
		types.Player{ID: "m", RoleID: "monk"},
		types.Player{ID: "p", RoleID: "poisoner"},
		types.Player{ID: "i", RoleID: "imp"},
		types.Player{ID: "e", RoleID: "empath"},
	)
	state.Round = 2

	queue := Build(state, roleRegistry, effectRegistry)
	_, _, err := queue.Advance()
	require.NoError(t, err)
	_, _, err = queue.Advance()
	require.NoError(t, err)
	current, ok := queue.Current()
	require.True(t, ok)
	require.Equal(t, "i", current.PlayerID)

	// the imp passes to the poisoner, who gains a late reveal, and the
	// empath dies
	after := state.Clone()
	after.Players[1].RoleID = "imp"
	after.Players[1].Effects = []types.EffectInstance{{Type: "late_reveal", ExpiresAt: types.ExpiresEndOfNight}}
	after.Players[3].Effects = []types.EffectInstance{{Type: types.EffectDead, ExpiresAt: types.ExpiresNever}}

	queue.Refresh(Build(after, roleRegistry, effectRegistry))

	assert.Equal(t, []string{"m", "p", "i", "p"}, playerIDs(queue.Turns))
	assert.Equal(t, "reveal", queue.Turns[3].FollowUp)
	assert.Equal(t, 2, queue.Position)
}

func TestRefreshKeepsWaitingTurnsOfEqualRank(t *testing.T) {
	roleRegistry, effectRegistry := registries(t)
	state := types.NewGameState(
		types.Player{ID: "p1", RoleID: "poisoner"},
		types.Player{ID: "p2", RoleID: "poisoner"},
	)
	state.Round = 1

	queue := Build(state, roleRegistry, effectRegistry)
	queue.Refresh(Build(state, roleRegistry, effectRegistry))
	assert.Equal(t, []string{"p1", "p2"}, playerIDs(queue.Turns))

	_, _, err := queue.Advance()
	require.NoError(t, err)
	queue.Refresh(Build(state, roleRegistry, effectRegistry))
	assert.Equal(t, []string{"p1", "p2"}, playerIDs(queue.Turns))
	assert.Equal(t, 1, queue.Position)
}

func TestRefreshOnFinishedQueueIsNoop(t *testing.T) {
	queue := &Queue{Round: 1, Turns: []Turn{{PlayerID: "a", Rank: 1}}, Position: 1}
	queue.Refresh(&Queue{Turns: []Turn{{PlayerID: "b", Rank: 5}}})
	assert.Equal(t, []string{"a"}, playerIDs(queue.Turns))
}
