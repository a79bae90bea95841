package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// ErrorResult is the value merged into the conversation when a call fails.
type ErrorResult struct {
	Error string `json:"error"`
}

type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		panic("tools: registry must not be nil")
	}
	return &Dispatcher{registry: registry}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Validate resolves the tool, checks args against its schema and binds them
// to the tool's parameters. Every failure is a *SchemaViolation.
func (d *Dispatcher) Validate(name string, args map[string]any) (Spec, Call, error) {
	entry, ok := d.registry.entries[name]
	if !ok {
		return Spec{}, nil, &SchemaViolation{Tool: name, Reason: "unknown tool"}
	}
	spec := entry.spec
	present := dropNulls(args).(map[string]any)
	if err := entry.resolved.Validate(present); err != nil {
		return Spec{}, nil, &SchemaViolation{Tool: name, Reason: err.Error()}
	}
	if spec.Disabled {
		return spec, nil, nil
	}
	raw, err := json.Marshal(present)
	if err != nil {
		return Spec{}, nil, &SchemaViolation{Tool: name, Reason: err.Error()}
	}
	call, err := spec.Bind(raw)
	if err != nil {
		return Spec{}, nil, &SchemaViolation{Tool: name, Reason: err.Error()}
	}
	return spec, call, nil
}

// Dispatch validates and executes one call. It returns *SchemaViolation when
// the call never reached an adapter and *AdapterFailure when the adapter failed.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	spec, call, err := d.Validate(name, args)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, spec, call)
}

// Invoke drives an invocation through its lifecycle and records the outcome on it.
func (d *Dispatcher) Invoke(ctx context.Context, inv *Invocation) {
	spec, call, err := d.Validate(inv.ToolName, inv.Args)
	if err != nil {
		_ = inv.transition(StateErrored)
		inv.Error = err.Error()
		inv.Result = ErrorResult{Error: err.Error()}
		return
	}
	if err := inv.transition(StateExecuting); err != nil {
		inv.Error = err.Error()
		return
	}
	info := CallInfoFrom(ctx)
	info.ToolCallID = inv.ID
	result, err := d.execute(WithCallInfo(ctx, info), spec, call)
	if err != nil {
		_ = inv.transition(StateErrored)
		inv.Error = err.Error()
		inv.Result = ErrorResult{Error: err.Error()}
		return
	}
	_ = inv.transition(StateCompleted)
	inv.Result = result
}

func (d *Dispatcher) execute(ctx context.Context, spec Spec, call Call) (result any, err error) {
	if spec.Disabled {
		return spec.DisabledResult, nil
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("tool %s panicked: %v", spec.Name, recovered)
			result = nil
			err = &AdapterFailure{Tool: spec.Name, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	result, err = call(ctx)
	if err != nil {
		log.Printf("tool %s error: %v", spec.Name, err)
		return nil, &AdapterFailure{Tool: spec.Name, Err: err}
	}
	return result, nil
}
