package types

// IntentType identifies what an intent proposes
type IntentType string

// IntentKill proposes that the target dies
const IntentKill IntentType = "kill"

// Kill causes
const (
	CauseDemon     = "demon"
	CauseExecution = "execution"
	CauseAbility   = "ability"
)

// Intent is a single-use request to change game state. It lives only for the
// duration of one pipeline resolution.
type Intent struct {
	ID       string     `json:"id"`
	Type     IntentType `json:"type"`
	SourceID string     `json:"sourceId"`
	TargetID string     `json:"targetId"`
	Cause    string     `json:"cause"`
}

// RoleChange replaces a player's current role
type RoleChange struct {
	PlayerID string `json:"playerId"`
	RoleID   string `json:"roleId"`
}

// EffectAddition attaches a new effect instance to a player
type EffectAddition struct {
	PlayerID string         `json:"playerId"`
	Effect   EffectInstance `json:"effect"`
}

// EffectRemoval removes every instance matching all of its non-empty fields
type EffectRemoval struct {
	PlayerID string `json:"playerId,omitempty"`
	Type     string `json:"type,omitempty"`
	SourceID string `json:"sourceId,omitempty"`
}

// IsZero reports whether the removal has no filter at all
func (r EffectRemoval) IsZero() bool {
	return r.PlayerID == "" && r.Type == "" && r.SourceID == ""
}

// Matches reports whether the instance owned by playerID is selected by the removal
func (r EffectRemoval) Matches(playerID string, effect EffectInstance) bool {
	if r.IsZero() {
		return false
	}
	if r.PlayerID != "" && r.PlayerID != playerID {
		return false
	}
	if r.Type != "" && r.Type != effect.Type {
		return false
	}
	if r.SourceID != "" && r.SourceID != effect.SourcePlayerID {
		return false
	}
	return true
}

// Changes is a set of state mutations applied together
type Changes struct {
	Entries       []HistoryEntry   `json:"entries,omitempty"`
	AddEffects    []EffectAddition `json:"addEffects,omitempty"`
	RemoveEffects []EffectRemoval  `json:"removeEffects,omitempty"`
	ChangeRoles   []RoleChange     `json:"changeRoles,omitempty"`
}

// Merge returns the concatenation of c and other, c first
func (c Changes) Merge(other Changes) Changes {
	return Changes{
		Entries:       append(append([]HistoryEntry(nil), c.Entries...), other.Entries...),
		AddEffects:    append(append([]EffectAddition(nil), c.AddEffects...), other.AddEffects...),
		RemoveEffects: append(append([]EffectRemoval(nil), c.RemoveEffects...), other.RemoveEffects...),
		ChangeRoles:   append(append([]RoleChange(nil), c.ChangeRoles...), other.ChangeRoles...),
	}
}

// IsEmpty reports whether the changes mutate nothing
func (c Changes) IsEmpty() bool {
	return len(c.Entries) == 0 && len(c.AddEffects) == 0 && len(c.RemoveEffects) == 0 && len(c.ChangeRoles) == 0
}

// Bundle is what an action flow hands to the transition applier when it completes
type Bundle struct {
	Changes
	Intent     *Intent `json:"intent,omitempty"`
	BeginPhase Phase   `json:"beginPhase,omitempty"`
}
