package scheduler

import (
	"errors"
	"sort"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

// ErrQueueEmpty indicates there is no actor left to step to
var ErrQueueEmpty = errors.New("night queue is empty")

// Turn is one actor's slot in the night order. FollowUp is set when the
// wake comes from an effect rather than the player's role.
type Turn struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	RoleID     string `json:"roleId"`
	EffectType string `json:"effectType,omitempty"`
	FollowUp   string `json:"followUp,omitempty"`
	Rank       int    `json:"rank"`
}

// Queue is the ordered list of night actors, stepped one at a time
type Queue struct {
	Round    int    `json:"round"`
	Turns    []Turn `json:"turns"`
	Position int    `json:"position"`
}

// Build computes tonight's queue. Players kept asleep by an effect, roles
// without a rank, and roles whose wake predicate fails are left out. Ties in
// rank keep seat order. A finished game yields an empty queue.
func Build(state *types.State, roleRegistry *roles.Registry, effectRegistry *effects.Registry) *Queue {
	queue := &Queue{Round: state.Round}
	if _, over := state.Winner(); over {
		return queue
	}

	for i := range state.Players {
		player := &state.Players[i]
		if effects.PreventsNightWake(effectRegistry, player) {
			continue
		}
		if role, ok := roleRegistry.Role(player.RoleID); ok && role.Wakes(state, player) {
			queue.Turns = append(queue.Turns, Turn{
				PlayerID:   player.ID,
				PlayerName: player.Name,
				RoleID:     player.RoleID,
				Rank:       *role.NightOrder,
			})
		}
		queue.Turns = append(queue.Turns, followUps(state, player, effectRegistry)...)
	}

	sort.SliceStable(queue.Turns, func(i, j int) bool {
		return queue.Turns[i].Rank < queue.Turns[j].Rank
	})
	return queue
}

func followUps(state *types.State, player *types.Player, registry *effects.Registry) []Turn {
	var turns []Turn
	for _, instance := range player.Effects {
		def := registry.MustLookup(instance.Type)
		if len(def.NightFollowUps) == 0 || !effects.Active(registry, player, def) {
			continue
		}
		for _, followUp := range def.NightFollowUps {
			if followUp.ShouldWake != nil && !followUp.ShouldWake(state, player, instance) {
				continue
			}
			turns = append(turns, Turn{
				PlayerID:   player.ID,
				PlayerName: player.Name,
				RoleID:     player.RoleID,
				EffectType: instance.Type,
				FollowUp:   followUp.ID,
				Rank:       followUp.NightOrder,
			})
		}
	}
	return turns
}

// Current returns the active actor
func (q *Queue) Current() (Turn, bool) {
	if q.Done() {
		return Turn{}, false
	}
	return q.Turns[q.Position], true
}

// Advance finishes the current turn and returns the next one. ok is false
// once the queue is exhausted.
func (q *Queue) Advance() (next Turn, ok bool, err error) {
	if q.Done() {
		return Turn{}, false, ErrQueueEmpty
	}
	q.Position++
	next, ok = q.Current()
	return next, ok, nil
}

// Remaining returns the turns not yet taken, the current one included
func (q *Queue) Remaining() []Turn {
	if q.Done() {
		return nil
	}
	return append([]Turn(nil), q.Turns[q.Position:]...)
}

// Done reports whether every turn has been taken
func (q *Queue) Done() bool {
	return q == nil || q.Position >= len(q.Turns)
}

func (t Turn) key() string {
	if t.FollowUp != "" {
		return t.PlayerID + "/" + t.EffectType + "/" + t.FollowUp
	}
	return t.PlayerID + "/" + t.RoleID
}

// Refresh reconciles the rest of the night with a queue built from the state
// after a commit. Taken turns and the current one stay put. Later turns come
// from fresh: strictly later ranks are taken as they are, and a turn sharing
// the current rank survives only if it was already waiting. Dead players drop
// out and new follow-ups join without anyone acting twice.
func (q *Queue) Refresh(fresh *Queue) {
	current, ok := q.Current()
	if !ok || fresh == nil {
		return
	}

	waiting := make(map[string]bool)
	for _, turn := range q.Turns[q.Position+1:] {
		waiting[turn.key()] = true
	}

	turns := append([]Turn(nil), q.Turns[:q.Position+1]...)
	for _, turn := range fresh.Turns {
		switch {
		case turn.Rank > current.Rank:
		case turn.Rank == current.Rank && waiting[turn.key()]:
		default:
			continue
		}
		turns = append(turns, turn)
	}
	q.Turns = turns
}
