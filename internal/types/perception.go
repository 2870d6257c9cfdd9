package types

// Alignment is the good/evil axis a player registers on
type Alignment string

const (
	AlignmentGood Alignment = "good"
	AlignmentEvil Alignment = "evil"
)

// Context names which facet of a player an information ability is asking about
type Context string

const (
	ContextAlignment Context = "alignment"
	ContextTeam      Context = "team"
	ContextRole      Context = "role"
)

// Perception is how one player appears to one observer in one context.
// It is always derived and never stored on the state.
type Perception struct {
	RoleID    string    `json:"roleId"`
	Team      string    `json:"team"`
	Alignment Alignment `json:"alignment"`
}

// PerceptionPatch is a partial perception; empty fields leave the base untouched
type PerceptionPatch struct {
	RoleID    string    `json:"roleId,omitempty"`
	Team      string    `json:"team,omitempty"`
	Alignment Alignment `json:"alignment,omitempty"`
}

// IsZero reports whether the patch sets no field
func (p PerceptionPatch) IsZero() bool {
	return p.RoleID == "" && p.Team == "" && p.Alignment == ""
}

// Merge returns p with the non-empty fields of other laid over it
func (p PerceptionPatch) Merge(other PerceptionPatch) PerceptionPatch {
	if other.RoleID != "" {
		p.RoleID = other.RoleID
	}
	if other.Team != "" {
		p.Team = other.Team
	}
	if other.Alignment != "" {
		p.Alignment = other.Alignment
	}
	return p
}

// Apply overrides the perception's fields with the patch's non-empty fields
func (p PerceptionPatch) Apply(base Perception) Perception {
	if p.RoleID != "" {
		base.RoleID = p.RoleID
	}
	if p.Team != "" {
		base.Team = p.Team
	}
	if p.Alignment != "" {
		base.Alignment = p.Alignment
	}
	return base
}
