package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

type State string

const (
	StateRequested State = "requested"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

// Invocation is one call requested by the model.
type Invocation struct {
	ID       string         `json:"toolCallId"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args"`
	State    State          `json:"state"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func NewInvocation(id string, toolName string, args map[string]any) *Invocation {
	if args == nil {
		args = map[string]any{}
	}
	return &Invocation{ID: id, ToolName: toolName, Args: args, State: StateRequested}
}

func (i *Invocation) transition(next State) error {
	allowed := false
	switch i.State {
	case StateRequested:
		allowed = next == StateExecuting || next == StateErrored
	case StateExecuting:
		allowed = next == StateCompleted || next == StateErrored
	}
	if !allowed {
		return fmt.Errorf("invocation %s: invalid transition %s -> %s", i.ID, i.State, next)
	}
	i.State = next
	return nil
}

// Finished reports whether the invocation reached a terminal state.
func (i *Invocation) Finished() bool {
	return i.State == StateCompleted || i.State == StateErrored
}

// Reject marks a requested invocation as errored without executing it.
func (i *Invocation) Reject(err error) {
	if transitionErr := i.transition(StateErrored); transitionErr != nil {
		return
	}
	i.Error = err.Error()
	i.Result = ErrorResult{Error: err.Error()}
}

// ParseArgs decodes a model-produced argument string into an argument bag.
func ParseArgs(toolName string, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &SchemaViolation{Tool: toolName, Reason: "arguments are not a JSON object"}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
