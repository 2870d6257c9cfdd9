package roles

import (
	"errors"
	"fmt"
	"sort"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/types"
)

var (
	// ErrUnknownRole indicates a reference to an unregistered role
	ErrUnknownRole = errors.New("role is not registered")
	// ErrUnknownTeam indicates a reference to an unregistered team
	ErrUnknownTeam = errors.New("team is not registered")
	// ErrDuplicateRole indicates the same role id registered twice
	ErrDuplicateRole = errors.New("role already registered")
	// ErrDuplicateTeam indicates the same team id registered twice
	ErrDuplicateTeam = errors.New("team already registered")
)

// Team groups roles under one allegiance
type Team struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Evil  bool   `json:"evil" yaml:"evil"`
	Demon bool   `json:"demon" yaml:"demon"`
}

// NightStep is one sub-step of a role's night action, shown to the narrator
type NightStep struct {
	ID     string `json:"id" yaml:"id"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// WakePredicate decides whether a player holding a role wakes this night
type WakePredicate func(state *types.State, player *types.Player) bool

// Definition is the capability record of one role. A nil NightOrder means the
// role never wakes; a nil ShouldWake means it wakes every night it is ranked.
type Definition struct {
	ID             string
	Name           string
	Team           string
	NightOrder     *int
	ShouldWake     WakePredicate
	InitialEffects []types.EffectInstance
	NightSteps     []NightStep
}

// Wakes reports whether the player wakes for this role tonight
func (d *Definition) Wakes(state *types.State, player *types.Player) bool {
	if d.NightOrder == nil {
		return false
	}
	return d.ShouldWake == nil || d.ShouldWake(state, player)
}

// Registry holds teams and roles. It is built once and read-only afterwards.
type Registry struct {
	teams map[string]Team
	roles map[string]*Definition
	order []string
}

// Build validates and indexes the teams and roles
func Build(teams []Team, definitions []Definition) (*Registry, error) {
	r := &Registry{
		teams: make(map[string]Team, len(teams)),
		roles: make(map[string]*Definition, len(definitions)),
	}
	for _, team := range teams {
		if team.ID == "" {
			return nil, fmt.Errorf("%w: empty team id", ErrUnknownTeam)
		}
		if _, exists := r.teams[team.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTeam, team.ID)
		}
		r.teams[team.ID] = team
	}
	for _, def := range definitions {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: empty role id", ErrUnknownRole)
		}
		if _, exists := r.roles[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, def.ID)
		}
		if _, ok := r.teams[def.Team]; !ok {
			return nil, fmt.Errorf("role %s: %w: %s", def.ID, ErrUnknownTeam, def.Team)
		}
		stored := def
		r.roles[def.ID] = &stored
		r.order = append(r.order, def.ID)
	}
	return r, nil
}

// ValidateEffects checks every initial effect against the effect registry.
// Run at load time so unknown types never reach a game.
func (r *Registry) ValidateEffects(registry *effects.Registry) error {
	for _, id := range r.order {
		if err := registry.Validate(r.roles[id].InitialEffects...); err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
	}
	return nil
}

// Role returns the definition for a role id
func (r *Registry) Role(id string) (*Definition, bool) {
	def, ok := r.roles[id]
	return def, ok
}

// MustRole returns the definition or panics on an unregistered id
func (r *Registry) MustRole(id string) *Definition {
	def, ok := r.roles[id]
	if !ok {
		panic(fmt.Sprintf("%v: %q", ErrUnknownRole, id))
	}
	return def
}

// Team returns the team for a team id
func (r *Registry) Team(id string) (Team, bool) {
	team, ok := r.teams[id]
	return team, ok
}

// TeamOf returns the team a role belongs to
func (r *Registry) TeamOf(roleID string) (Team, bool) {
	def, ok := r.roles[roleID]
	if !ok {
		return Team{}, false
	}
	return r.Team(def.Team)
}

// IsEvil reports whether the role's team is evil
func (r *Registry) IsEvil(roleID string) bool {
	team, ok := r.TeamOf(roleID)
	return ok && team.Evil
}

// IsDemon reports whether the role belongs to the demon team
func (r *Registry) IsDemon(roleID string) bool {
	team, ok := r.TeamOf(roleID)
	return ok && team.Demon
}

// Roles returns role ids in registration order
func (r *Registry) Roles() []string {
	return append([]string(nil), r.order...)
}

// Teams returns team ids sorted
func (r *Registry) Teams() []string {
	ids := make([]string, 0, len(r.teams))
	for id := range r.teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
