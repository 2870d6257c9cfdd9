package effects

import "github.com/user/grimoire/internal/types"

// Decision is a handler's verdict on an intent
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionPrevent   Decision = "prevent"
	DecisionRequestUI Decision = "request_ui"
)

// Result is what a handler returns
type Result struct {
	Decision Decision
	Changes  types.Changes
	Prompt   *Prompt
	// Data is stored in the continuation and handed back to Resume.
	Data types.Payload
}

// Prompt describes the narrator input a suspended handler needs
type Prompt struct {
	Kind    string         `json:"kind"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Options []PromptOption `json:"options,omitempty"`
}

// PromptKindChoosePlayer asks the narrator to pick one of the options
const PromptKindChoosePlayer = "choose_player"

// PromptOption is one selectable answer
type PromptOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// UserInput is the narrator's answer to a prompt
type UserInput struct {
	PlayerIDs []string      `json:"playerIds,omitempty"`
	Choice    string        `json:"choice,omitempty"`
	Data      types.Payload `json:"data,omitempty"`
}

// Allow lets the intent continue, recording the given changes
func Allow(changes ...types.Changes) Result {
	return Result{Decision: DecisionAllow, Changes: mergeAll(changes)}
}

// Prevent stops the intent, recording the given changes
func Prevent(changes ...types.Changes) Result {
	return Result{Decision: DecisionPrevent, Changes: mergeAll(changes)}
}

// RequestUI suspends resolution until the narrator answers the prompt
func RequestUI(prompt Prompt, data types.Payload) Result {
	return Result{Decision: DecisionRequestUI, Prompt: &prompt, Data: data}
}

func mergeAll(changes []types.Changes) types.Changes {
	var merged types.Changes
	for _, c := range changes {
		merged = merged.Merge(c)
	}
	return merged
}
