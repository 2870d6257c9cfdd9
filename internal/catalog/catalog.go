package catalog

import (
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/types"
)

//go:embed roles.yaml
var defaultRoles []byte

// Rules are the sealed registries a game runs against
type Rules struct {
	Effects *effects.Registry
	Roles   *roles.Registry
}

// Build loads the role catalog (the embedded one when rolesPath is empty),
// registers the shipped effects and intent kinds, and checks every initial
// effect a role declares is registered.
func Build(rolesPath string, logger *zap.Logger) (*Rules, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wake, err := roles.NewWakeCompiler(logger)
	if err != nil {
		return nil, err
	}

	var catalog *roles.Catalog
	if rolesPath == "" {
		catalog, err = roles.LoadCatalog(defaultRoles, wake)
	} else {
		catalog, err = roles.LoadCatalogFile(rolesPath, wake)
	}
	if err != nil {
		return nil, err
	}

	roleRegistry, err := catalog.Registry()
	if err != nil {
		return nil, fmt.Errorf("build role registry: %w", err)
	}
	effectRegistry, err := effects.Build(Effects(roleRegistry), Kinds())
	if err != nil {
		return nil, fmt.Errorf("build effect registry: %w", err)
	}
	if err := roleRegistry.ValidateEffects(effectRegistry); err != nil {
		return nil, err
	}

	logger.Info("Catalog loaded",
		zap.String("roles_path", rolesPath),
		zap.Int("roles", len(roleRegistry.Roles())),
		zap.Int("effects", len(effectRegistry.Types())))
	return &Rules{Effects: effectRegistry, Roles: roleRegistry}, nil
}

// Kinds returns the shipped intent kinds
func Kinds() []effects.IntentKind {
	return []effects.IntentKind{{Type: types.IntentKill, OnAllow: kill}}
}

// kill marks the target dead and records how. Killing a dead player changes nothing.
func kill(intent types.Intent, state *types.State) types.Changes {
	target, ok := state.Player(intent.TargetID)
	if !ok || !target.IsAlive() {
		return types.Changes{}
	}

	entry := types.HistoryEntry{
		Type:    types.EntryDeath,
		Message: displayName(target) + " died",
		Data: types.Payload{
			"playerId": target.ID,
			"cause":    intent.Cause,
			"intentId": intent.ID,
		},
	}
	if intent.SourceID != "" {
		entry.Data["sourceId"] = intent.SourceID
	}
	if intent.Cause == types.CauseExecution {
		entry.Type = types.EntryExecution
		entry.Message = displayName(target) + " was executed"
	}

	return types.Changes{
		AddEffects: []types.EffectAddition{{
			PlayerID: target.ID,
			Effect: types.EffectInstance{
				Type:           types.EffectDead,
				SourcePlayerID: intent.SourceID,
				ExpiresAt:      types.ExpiresNever,
			},
		}},
		Entries: []types.HistoryEntry{entry},
	}
}
