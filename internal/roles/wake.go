package roles

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/user/grimoire/internal/types"
)

const wakeCostLimit = 10000

// WakeCompiler turns catalog wake expressions into WakePredicates.
//
// Expressions see two maps:
//
//	game:   round, phase, executionSinceDawn, aliveCount
//	player: id, role, alive, effects
//
// e.g. `game.round > 1 && player.alive`.
type WakeCompiler struct {
	env    *cel.Env
	logger *zap.Logger
}

// NewWakeCompiler creates the CEL environment shared by all wake expressions
func NewWakeCompiler(logger *zap.Logger) (*WakeCompiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := cel.NewEnv(
		cel.Variable("game", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("player", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &WakeCompiler{env: env, logger: logger}, nil
}

// Compile checks the expression and returns a predicate evaluating it.
// The expression must produce a bool.
func (c *WakeCompiler) Compile(expression string) (WakePredicate, error) {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expression, issues.Err())
	}
	// Map fields are dyn, so `player.alive` alone checks as dyn rather than bool.
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("wake expression %q must return bool, got %s", expression, out)
	}
	prg, err := c.env.Program(ast, cel.CostLimit(wakeCostLimit))
	if err != nil {
		return nil, fmt.Errorf("CEL program error in %q: %w", expression, err)
	}

	return func(state *types.State, player *types.Player) bool {
		out, _, err := prg.Eval(map[string]any{
			"game":   gameActivation(state),
			"player": playerActivation(player),
		})
		if err != nil {
			c.logger.Warn("Wake expression failed",
				zap.String("expression", expression),
				zap.String("player_id", player.ID),
				zap.Error(err))
			return false
		}
		wake, ok := out.Value().(bool)
		return ok && wake
	}, nil
}

func gameActivation(state *types.State) map[string]any {
	return map[string]any{
		"round":              int64(state.Round),
		"phase":              string(state.Phase),
		"executionSinceDawn": state.ExecutionSinceDawn(),
		"aliveCount":         int64(len(state.AlivePlayers())),
	}
}

func playerActivation(player *types.Player) map[string]any {
	effectTypes := make([]string, 0, len(player.Effects))
	for _, instance := range player.Effects {
		effectTypes = append(effectTypes, instance.Type)
	}
	return map[string]any{
		"id":      player.ID,
		"role":    player.RoleID,
		"alive":   player.IsAlive(),
		"effects": effectTypes,
	}
}
