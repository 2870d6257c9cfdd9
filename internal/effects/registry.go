package effects

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/grimoire/internal/types"
)

var (
	// ErrEffectTypeRequired indicates a definition without a type
	ErrEffectTypeRequired = errors.New("effect type is required")
	// ErrEffectAlreadyRegistered indicates a duplicate registration
	ErrEffectAlreadyRegistered = errors.New("effect type already registered")
	// ErrUnknownEffect indicates a reference to an unregistered effect type
	ErrUnknownEffect = errors.New("effect type is not registered")
	// ErrRegistrySealed indicates a registration after startup finished
	ErrRegistrySealed = errors.New("effect registry is sealed")
	// ErrInvalidHandler indicates a handler missing its id, intent type or Handle func
	ErrInvalidHandler = errors.New("invalid intent handler")
	// ErrIntentKindAlreadyRegistered indicates a duplicate intent kind
	ErrIntentKindAlreadyRegistered = errors.New("intent kind already registered")
)

// Registry maps effect types to their definitions. It is filled once at
// startup, sealed, and read-only afterwards.
type Registry struct {
	definitions map[string]*Definition
	order       []string
	kinds       map[types.IntentType]IntentKind
	sealed      bool
}

// NewRegistry creates an empty, unsealed registry
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
		kinds:       make(map[types.IntentType]IntentKind),
	}
}

// Build registers every definition and intent kind and seals the registry
func Build(definitions []Definition, kinds []IntentKind) (*Registry, error) {
	registry := NewRegistry()
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	for _, kind := range kinds {
		if err := registry.RegisterKind(kind); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}

// Register adds a definition. It fails when the type is already registered.
func (r *Registry) Register(def Definition) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	def.Type = strings.TrimSpace(def.Type)
	if def.Type == "" {
		return ErrEffectTypeRequired
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("%w: %s", ErrEffectAlreadyRegistered, def.Type)
	}
	seen := make(map[string]bool, len(def.Handlers))
	for _, handler := range def.Handlers {
		if handler.ID == "" || handler.IntentType == "" || handler.Handle == nil {
			return fmt.Errorf("%w: effect %s handler %q", ErrInvalidHandler, def.Type, handler.ID)
		}
		if seen[handler.ID] {
			return fmt.Errorf("%w: effect %s has duplicate handler %q", ErrInvalidHandler, def.Type, handler.ID)
		}
		seen[handler.ID] = true
	}
	stored := def
	r.definitions[def.Type] = &stored
	r.order = append(r.order, def.Type)
	return nil
}

// RegisterKind adds the allow behavior for an intent type
func (r *Registry) RegisterKind(kind IntentKind) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.kinds[kind.Type]; exists {
		return fmt.Errorf("%w: %s", ErrIntentKindAlreadyRegistered, kind.Type)
	}
	r.kinds[kind.Type] = kind
	return nil
}

// Seal makes the registry read-only
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether startup registration finished
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the definition for an effect type
func (r *Registry) Lookup(effectType string) (*Definition, bool) {
	def, ok := r.definitions[effectType]
	return def, ok
}

// MustLookup returns the definition or panics. A miss means data references a
// type nobody registered, which is a build error rather than a game situation.
func (r *Registry) MustLookup(effectType string) *Definition {
	def, ok := r.definitions[effectType]
	if !ok {
		panic(fmt.Sprintf("%v: %q", ErrUnknownEffect, effectType))
	}
	return def
}

// Kind returns the allow behavior registered for an intent type
func (r *Registry) Kind(intentType types.IntentType) (IntentKind, bool) {
	kind, ok := r.kinds[intentType]
	return kind, ok
}

// Handler finds a handler by effect type and handler id
func (r *Registry) Handler(effectType, handlerID string) (*IntentHandler, bool) {
	def, ok := r.definitions[effectType]
	if !ok {
		return nil, false
	}
	for i := range def.Handlers {
		if def.Handlers[i].ID == handlerID {
			return &def.Handlers[i], true
		}
	}
	return nil, false
}

// Types returns the registered effect types in registration order
func (r *Registry) Types() []string {
	return append([]string(nil), r.order...)
}
