package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/types"
)

var (
	// ErrUnknownPlayer indicates an intent naming a player who is not seated
	ErrUnknownPlayer = errors.New("player is not in the game")
	// ErrUnknownIntentType indicates an intent type with no registered kind
	ErrUnknownIntentType = errors.New("intent type is not registered")
	// ErrStaleContinuation indicates the suspended handler can no longer be found
	ErrStaleContinuation = errors.New("continuation no longer matches the game state")
	// ErrInvalidDecision indicates a handler returned an unknown decision
	ErrInvalidDecision = errors.New("handler returned an invalid decision")
)

// Step records one handler invocation
type Step struct {
	PlayerID   string           `json:"playerId"`
	EffectType string           `json:"effectType"`
	HandlerID  string           `json:"handlerId"`
	Priority   int              `json:"priority"`
	Decision   effects.Decision `json:"decision"`
}

// Continuation is a suspended resolution stored as data. It names the
// handler that asked for input and carries everything Resume needs.
type Continuation struct {
	ID            string        `json:"id"`
	Intent        types.Intent  `json:"intent"`
	OwnerID       string        `json:"ownerId"`
	EffectType    string        `json:"effectType"`
	InstanceIndex int           `json:"instanceIndex"`
	HandlerID     string        `json:"handlerId"`
	Data          types.Payload `json:"data,omitempty"`
	// Accumulated holds the changes of handlers that allowed before the suspension.
	Accumulated types.Changes `json:"accumulated"`
}

// Suspension is a resolution parked until the narrator answers the prompt
type Suspension struct {
	Prompt       effects.Prompt `json:"prompt"`
	Continuation Continuation   `json:"continuation"`
}

// Resolution is the outcome of running an intent through the handlers
type Resolution struct {
	Decision   effects.Decision `json:"decision"`
	Changes    types.Changes    `json:"changes"`
	Suspension *Suspension      `json:"suspension,omitempty"`
	Trace      []Step           `json:"trace,omitempty"`
}

// Suspended reports whether the resolution is waiting for narrator input
func (r Resolution) Suspended() bool {
	return r.Decision == effects.DecisionRequestUI
}

// Pipeline adjudicates intents against the handlers declared by effects in play
type Pipeline struct {
	effects *effects.Registry
	logger  *zap.Logger
}

// New creates a pipeline
func New(registry *effects.Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{effects: registry, logger: logger}
}

type candidate struct {
	owner         *types.Player
	instanceIndex int
	def           *effects.Definition
	handler       *effects.IntentHandler
}

// Resolve runs the intent through every applicable handler in ascending
// priority. Ties keep seat order, then effect order, then declaration order.
// The first prevent or request_ui ends the walk. The state is only read.
func (p *Pipeline) Resolve(intent types.Intent, state *types.State) (Resolution, error) {
	if err := checkPlayers(intent, state); err != nil {
		return Resolution{}, err
	}
	kind, ok := p.effects.Kind(intent.Type)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownIntentType, intent.Type)
	}
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}

	candidates := p.collect(intent, state)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].handler.Priority < candidates[j].handler.Priority
	})

	var accumulated types.Changes
	trace := make([]Step, 0, len(candidates))
	for _, c := range candidates {
		result := c.handler.Handle(effects.HandlerContext{
			Intent:   intent,
			Owner:    c.owner,
			Instance: c.owner.Effects[c.instanceIndex],
			State:    state,
		})
		trace = append(trace, Step{
			PlayerID:   c.owner.ID,
			EffectType: c.def.Type,
			HandlerID:  c.handler.ID,
			Priority:   c.handler.Priority,
			Decision:   result.Decision,
		})
		p.logger.Debug("Handler decided",
			zap.String("intent_id", intent.ID),
			zap.String("player_id", c.owner.ID),
			zap.String("effect_type", c.def.Type),
			zap.String("handler_id", c.handler.ID),
			zap.String("decision", string(result.Decision)))

		switch result.Decision {
		case effects.DecisionAllow:
			accumulated = accumulated.Merge(result.Changes)
		case effects.DecisionPrevent:
			return Resolution{
				Decision: effects.DecisionPrevent,
				Changes:  accumulated.Merge(result.Changes),
				Trace:    trace,
			}, nil
		case effects.DecisionRequestUI:
			continuation := Continuation{
				ID:            uuid.New().String(),
				Intent:        intent,
				OwnerID:       c.owner.ID,
				EffectType:    c.def.Type,
				InstanceIndex: c.instanceIndex,
				HandlerID:     c.handler.ID,
				Data:          result.Data,
				Accumulated:   accumulated.Merge(result.Changes),
			}
			return p.suspend(continuation, result, trace)
		default:
			return Resolution{}, fmt.Errorf("%w: %q from %s/%s", ErrInvalidDecision, result.Decision, c.def.Type, c.handler.ID)
		}
	}

	return Resolution{
		Decision: effects.DecisionAllow,
		Changes:  allowed(kind, intent, state, accumulated),
		Trace:    trace,
	}, nil
}

// Resume hands the narrator's input to the handler that suspended. Its
// decision is final for the intent; later handlers in the original walk
// are not consulted. The handler may ask for input again.
func (p *Pipeline) Resume(continuation Continuation, input effects.UserInput, state *types.State) (Resolution, error) {
	owner, ok := state.Player(continuation.OwnerID)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: owner %s left the game", ErrStaleContinuation, continuation.OwnerID)
	}
	index := instanceIndex(owner, continuation)
	if index < 0 {
		return Resolution{}, fmt.Errorf("%w: %s no longer carries %s", ErrStaleContinuation, owner.ID, continuation.EffectType)
	}
	handler, ok := p.effects.Handler(continuation.EffectType, continuation.HandlerID)
	if !ok || handler.Resume == nil {
		return Resolution{}, fmt.Errorf("%w: handler %s/%s cannot resume", ErrStaleContinuation, continuation.EffectType, continuation.HandlerID)
	}
	if err := checkPlayers(continuation.Intent, state); err != nil {
		return Resolution{}, err
	}
	kind, ok := p.effects.Kind(continuation.Intent.Type)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownIntentType, continuation.Intent.Type)
	}

	result := handler.Resume(effects.HandlerContext{
		Intent:   continuation.Intent,
		Owner:    owner,
		Instance: owner.Effects[index],
		State:    state,
	}, continuation.Data, input)
	trace := []Step{{
		PlayerID:   owner.ID,
		EffectType: continuation.EffectType,
		HandlerID:  handler.ID,
		Priority:   handler.Priority,
		Decision:   result.Decision,
	}}
	p.logger.Debug("Handler resumed",
		zap.String("intent_id", continuation.Intent.ID),
		zap.String("continuation_id", continuation.ID),
		zap.String("handler_id", handler.ID),
		zap.String("decision", string(result.Decision)))

	switch result.Decision {
	case effects.DecisionAllow:
		return Resolution{
			Decision: effects.DecisionAllow,
			Changes:  allowed(kind, continuation.Intent, state, continuation.Accumulated.Merge(result.Changes)),
			Trace:    trace,
		}, nil
	case effects.DecisionPrevent:
		return Resolution{
			Decision: effects.DecisionPrevent,
			Changes:  continuation.Accumulated.Merge(result.Changes),
			Trace:    trace,
		}, nil
	case effects.DecisionRequestUI:
		next := continuation
		next.InstanceIndex = index
		next.Data = result.Data
		next.Accumulated = continuation.Accumulated.Merge(result.Changes)
		return p.suspend(next, result, trace)
	default:
		return Resolution{}, fmt.Errorf("%w: %q from %s/%s", ErrInvalidDecision, result.Decision, continuation.EffectType, handler.ID)
	}
}

func (p *Pipeline) collect(intent types.Intent, state *types.State) []candidate {
	var candidates []candidate
	for pi := range state.Players {
		owner := &state.Players[pi]
		for ii, instance := range owner.Effects {
			def := p.effects.MustLookup(instance.Type)
			if len(def.Handlers) == 0 || !effects.Active(p.effects, owner, def) {
				continue
			}
			for hi := range def.Handlers {
				handler := &def.Handlers[hi]
				if handler.IntentType != intent.Type {
					continue
				}
				if handler.AppliesTo != nil && !handler.AppliesTo(intent, owner) {
					continue
				}
				candidates = append(candidates, candidate{
					owner:         owner,
					instanceIndex: ii,
					def:           def,
					handler:       handler,
				})
			}
		}
	}
	return candidates
}

func (p *Pipeline) suspend(continuation Continuation, result effects.Result, trace []Step) (Resolution, error) {
	if result.Prompt == nil {
		return Resolution{}, fmt.Errorf("%w: %s/%s requested input without a prompt", ErrInvalidDecision, continuation.EffectType, continuation.HandlerID)
	}
	p.logger.Info("Intent suspended for narrator input",
		zap.String("intent_id", continuation.Intent.ID),
		zap.String("continuation_id", continuation.ID),
		zap.String("player_id", continuation.OwnerID),
		zap.String("handler_id", continuation.HandlerID))
	return Resolution{
		Decision: effects.DecisionRequestUI,
		Suspension: &Suspension{
			Prompt:       *result.Prompt,
			Continuation: continuation,
		},
		Trace: trace,
	}, nil
}

func allowed(kind effects.IntentKind, intent types.Intent, state *types.State, changes types.Changes) types.Changes {
	if kind.OnAllow == nil {
		return changes
	}
	return changes.Merge(kind.OnAllow(intent, state))
}

func checkPlayers(intent types.Intent, state *types.State) error {
	if _, ok := state.Player(intent.TargetID); !ok {
		return fmt.Errorf("%w: target %q", ErrUnknownPlayer, intent.TargetID)
	}
	if intent.SourceID != "" {
		if _, ok := state.Player(intent.SourceID); !ok {
			return fmt.Errorf("%w: source %q", ErrUnknownPlayer, intent.SourceID)
		}
	}
	return nil
}

func instanceIndex(owner *types.Player, continuation Continuation) int {
	i := continuation.InstanceIndex
	if i >= 0 && i < len(owner.Effects) && owner.Effects[i].Type == continuation.EffectType {
		return i
	}
	for i, instance := range owner.Effects {
		if instance.Type == continuation.EffectType {
			return i
		}
	}
	return -1
}
