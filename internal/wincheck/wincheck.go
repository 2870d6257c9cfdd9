package wincheck

import (
	"go.uber.org/zap"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

// Reasons recorded on the game over entry
const (
	ReasonDemonDead      = "demon_dead"
	ReasonMartyrExecuted = "martyr_executed"
	ReasonEvilMajority   = "evil_majority"
)

// Result names the winning side
type Result struct {
	Winner types.Alignment `json:"winner"`
	Reason string          `json:"reason"`
}

// Entry builds the terminal history entry for the result
func (r Result) Entry() types.HistoryEntry {
	return types.HistoryEntry{
		Type:    types.EntryGameOver,
		Message: "The " + string(r.Winner) + " team wins",
		Data:    types.Payload{"winner": string(r.Winner), "reason": r.Reason},
	}
}

// Evaluator checks both win conditions after a commit
type Evaluator struct {
	roles    *roles.Registry
	effects  *effects.Registry
	tieBreak types.Alignment
	logger   *zap.Logger
}

// New creates an evaluator. tieBreak decides a commit that satisfies both
// conditions at once; anything other than evil means good.
func New(roleRegistry *roles.Registry, effectRegistry *effects.Registry, tieBreak types.Alignment, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tieBreak != types.AlignmentEvil {
		tieBreak = types.AlignmentGood
	}
	return &Evaluator{roles: roleRegistry, effects: effectRegistry, tieBreak: tieBreak, logger: logger}
}

// Evaluate inspects the state a commit produced. committed holds the
// entries that commit appended.
func (e *Evaluator) Evaluate(state *types.State, committed []types.HistoryEntry) (Result, bool) {
	if state.Phase == types.PhaseSetup {
		return Result{}, false
	}
	if _, over := state.Winner(); over {
		return Result{}, false
	}

	good, goodOK := e.goodWins(state)
	evil, evilOK := e.evilWins(state, committed)

	var result Result
	switch {
	case goodOK && evilOK:
		result = good
		if e.tieBreak == types.AlignmentEvil {
			result = evil
		}
		e.logger.Info("Both win conditions fired, applying tie-break",
			zap.String("tie_break", string(e.tieBreak)))
	case goodOK:
		result = good
	case evilOK:
		result = evil
	default:
		return Result{}, false
	}

	e.logger.Info("Game over",
		zap.String("winner", string(result.Winner)),
		zap.String("reason", result.Reason),
		zap.Int("round", state.Round))
	return result, true
}

func (e *Evaluator) goodWins(state *types.State) (Result, bool) {
	for _, player := range state.AlivePlayers() {
		if e.roles.IsDemon(player.RoleID) {
			return Result{}, false
		}
	}
	return Result{Winner: types.AlignmentGood, Reason: ReasonDemonDead}, true
}

func (e *Evaluator) evilWins(state *types.State, committed []types.HistoryEntry) (Result, bool) {
	for _, entry := range committed {
		if entry.Type != types.EntryExecution {
			continue
		}
		player, ok := state.Player(entry.Data.String("playerId"))
		if ok && e.hasMartyrdom(player) {
			return Result{Winner: types.AlignmentEvil, Reason: ReasonMartyrExecuted}, true
		}
	}

	demonAlive := false
	others := 0
	for _, player := range state.AlivePlayers() {
		if e.roles.IsDemon(player.RoleID) {
			demonAlive = true
		} else {
			others++
		}
	}
	if demonAlive && others <= 1 {
		return Result{Winner: types.AlignmentEvil, Reason: ReasonEvilMajority}, true
	}
	return Result{}, false
}

func (e *Evaluator) hasMartyrdom(player *types.Player) bool {
	for _, instance := range player.Effects {
		def := e.effects.MustLookup(instance.Type)
		if def.Martyrdom && effects.Active(e.effects, player, def) {
			return true
		}
	}
	return false
}
