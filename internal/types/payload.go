package types

// Payload is the open data attached to effect instances and history entries.
// Its shape is owned by whichever effect definition reads it; values must stay
// JSON compatible so a state survives a round trip through storage.
type Payload map[string]any

const perceiveAsKey = "perceiveAs"

// Clone returns a deep copy of the payload
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for key, value := range p {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case Payload:
		return v.Clone()
	case map[string]any:
		return map[string]any(Payload(v).Clone())
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

// String returns the string stored under key or ""
func (p Payload) String(key string) string {
	if value, ok := p[key].(string); ok {
		return value
	}
	return ""
}

// Strings returns the string list stored under key. Lists decoded from JSON
// arrive as []any and are converted.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// PerceiveAs returns the narrator's pinned perception stored on the payload
func (p Payload) PerceiveAs() (PerceptionPatch, bool) {
	var raw map[string]any
	switch v := p[perceiveAsKey].(type) {
	case Payload:
		raw = v
	case map[string]any:
		raw = v
	default:
		return PerceptionPatch{}, false
	}
	patch := PerceptionPatch{
		RoleID:    Payload(raw).String("roleId"),
		Team:      Payload(raw).String("team"),
		Alignment: Alignment(Payload(raw).String("alignment")),
	}
	return patch, !patch.IsZero()
}

// WithPerceiveAs returns a copy of the payload whose pinned perception has been
// patched with the non-empty fields of patch
func (p Payload) WithPerceiveAs(patch PerceptionPatch) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	current, _ := out.PerceiveAs()
	merged := current.Merge(patch)
	raw := map[string]any{}
	if merged.RoleID != "" {
		raw["roleId"] = merged.RoleID
	}
	if merged.Team != "" {
		raw["team"] = merged.Team
	}
	if merged.Alignment != "" {
		raw["alignment"] = string(merged.Alignment)
	}
	out[perceiveAsKey] = raw
	return out
}
