// Package chat runs one chat turn: it streams model output, dispatches the
// tool calls the model asks for and hands the finished transcript to the
// post-turn hooks.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/llm"
	"github.com/promptmack/assistant/internal/prompt"
	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/tools"
)

const (
	DefaultMaxSteps = 3
	hookTimeout     = 30 * time.Second
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMissingChatID = errors.New("chat id is required")
	ErrNotFound      = errors.New("chat not found")
)

// EmitFunc delivers one event to the requester. A returned error aborts the turn.
type EmitFunc func(event events.ChatEvent) error

type Options struct {
	Provider   llm.Provider
	Dispatcher *tools.Dispatcher
	Store      store.Store
	Broker     *events.Broker
	// Identity replaces the default system prompt identity when set.
	Identity string
	MaxSteps int
	// Hooks defaults to persisting the transcript in Store.
	Hooks       []Hook
	OnHookError HookErrorHandler
	Now         func() time.Time
}

type Orchestrator struct {
	provider    llm.Provider
	dispatcher  *tools.Dispatcher
	store       store.Store
	broker      *events.Broker
	identity    string
	maxSteps    int
	tools       []llm.ToolDefinition
	hooks       []Hook
	onHookError HookErrorHandler
	now         func() time.Time
}

type Turn struct {
	ChatID   string
	UserID   string
	Messages []Message
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("chat: provider is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("chat: dispatcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	o := &Orchestrator{
		provider:    opts.Provider,
		dispatcher:  opts.Dispatcher,
		store:       opts.Store,
		broker:      opts.Broker,
		identity:    opts.Identity,
		maxSteps:    opts.MaxSteps,
		hooks:       opts.Hooks,
		onHookError: opts.OnHookError,
		now:         opts.Now,
	}
	if o.maxSteps <= 0 {
		o.maxSteps = DefaultMaxSteps
	}
	if o.hooks == nil {
		o.hooks = []Hook{PersistTranscript(opts.Store)}
	}
	if o.onHookError == nil {
		o.onHookError = LogHookError
	}
	if o.now == nil {
		o.now = time.Now
	}
	for _, decl := range opts.Dispatcher.Registry().Declarations() {
		o.tools = append(o.tools, llm.ToolDefinition{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  decl.Parameters,
		})
	}
	return o, nil
}

func (o *Orchestrator) SystemPrompt() string {
	return prompt.Build(o.identity, o.dispatcher.Registry().Names(), o.now())
}

// Run executes one turn. Errors returned before the first emitted event mean
// nothing reached the requester.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, emit EmitFunc) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(turn.ChatID) == "" {
		return ErrMissingChatID
	}
	existing, err := o.store.GetChat(ctx, turn.ChatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if existing != nil && existing.UserID != turn.UserID {
		return ErrUnauthorized
	}

	input := Normalize(turn.Messages, o.now())
	history := toModelMessages(input)
	system := o.SystemPrompt()
	stream := &turnStream{chatID: turn.ChatID, broker: o.broker, emit: emit}

	var produced []Message
	finishReason := "stop"
	for step := 1; step <= o.maxSteps; step++ {
		result, err := o.provider.Stream(ctx, llm.Request{
			System:   system,
			Messages: history,
			Tools:    o.tools,
		}, func(delta string) error {
			return stream.send(events.TypeText, map[string]any{"delta": delta})
		})
		if err != nil {
			stream.publish(events.TypeError, map[string]any{"message": err.Error()})
			return fmt.Errorf("model step %d: %w", step, err)
		}
		finishReason = result.FinishReason

		reply := Message{
			ID:        uuid.NewString(),
			Role:      llm.RoleAssistant,
			Content:   result.Text,
			CreatedAt: store.FormatTime(o.now()),
		}
		if len(result.ToolCalls) > 0 {
			invocations, err := o.runTools(ctx, turn, stream, result.ToolCalls)
			if err != nil {
				return err
			}
			reply.ToolInvocations = invocations
		}
		produced = append(produced, reply)
		history = append(history, toModelMessages([]Message{reply})...)

		if err := stream.send(events.TypeStepFinish, map[string]any{"step": step, "finishReason": result.FinishReason}); err != nil {
			return err
		}
		if len(result.ToolCalls) == 0 {
			break
		}
	}
	if err := stream.send(events.TypeFinish, map[string]any{"finishReason": finishReason}); err != nil {
		return err
	}

	o.afterTurn(ctx, Transcript{
		ChatID:   turn.ChatID,
		UserID:   turn.UserID,
		Messages: append(input, produced...),
	})
	return nil
}

// runTools executes every call of one model step concurrently and waits for
// all of them. A failing tool only affects its own invocation.
func (o *Orchestrator) runTools(ctx context.Context, turn Turn, stream *turnStream, calls []llm.ToolCall) ([]store.ToolInvocation, error) {
	invocations := make([]*tools.Invocation, 0, len(calls))
	for _, call := range calls {
		args, err := tools.ParseArgs(call.Name, call.Arguments)
		inv := tools.NewInvocation(call.ID, call.Name, args)
		if err != nil {
			inv.Reject(err)
		}
		invocations = append(invocations, inv)
		if err := stream.send(events.TypeToolCall, map[string]any{
			"toolCallId": inv.ID,
			"toolName":   inv.ToolName,
			"args":       inv.Args,
		}); err != nil {
			return nil, err
		}
	}

	toolCtx := tools.WithCallInfo(ctx, tools.CallInfo{ChatID: turn.ChatID, UserID: turn.UserID})
	var group errgroup.Group
	for _, inv := range invocations {
		group.Go(func() error {
			if !inv.Finished() {
				o.dispatcher.Invoke(toolCtx, inv)
			}
			return stream.send(events.TypeToolResult, toolResultPayload(inv))
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	records := make([]store.ToolInvocation, 0, len(invocations))
	for _, inv := range invocations {
		records = append(records, recordInvocation(inv))
	}
	return records, nil
}

func toolResultPayload(inv *tools.Invocation) map[string]any {
	payload := map[string]any{
		"toolCallId": inv.ID,
		"toolName":   inv.ToolName,
		"state":      string(inv.State),
	}
	if inv.Error != "" {
		payload["error"] = inv.Error
	}
	if inv.Result != nil {
		payload["result"] = inv.Result
	}
	return payload
}

func (o *Orchestrator) afterTurn(ctx context.Context, transcript Transcript) {
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	for _, hook := range o.hooks {
		if err := hook(hookCtx, transcript); err != nil {
			o.onHookError(transcript, err)
		}
	}
}

// Load returns a chat owned by userID.
func (o *Orchestrator) Load(ctx context.Context, chatID string, userID string) (*store.Chat, error) {
	chat, err := o.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrNotFound
	}
	if chat.UserID != userID {
		return nil, ErrUnauthorized
	}
	return chat, nil
}

func (o *Orchestrator) History(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	return o.store.ListChats(ctx, userID)
}

// Delete removes a chat after checking that userID owns it. An unknown chat
// surfaces as store.ErrNotFound.
func (o *Orchestrator) Delete(ctx context.Context, chatID string, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(chatID) == "" {
		return ErrMissingChatID
	}
	chat, err := o.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return fmt.Errorf("load chat %s: %w", chatID, store.ErrNotFound)
	}
	if chat.UserID != userID {
		return ErrUnauthorized
	}
	return o.store.DeleteChat(ctx, chatID)
}

// turnStream serializes events of one turn to the requester and the broker.
type turnStream struct {
	mu     sync.Mutex
	chatID string
	seq    int64
	broker *events.Broker
	emit   EmitFunc
}

func (s *turnStream) send(eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := s.next(eventType, payload)
	if s.broker != nil {
		s.broker.Publish(event)
	}
	if s.emit == nil {
		return nil
	}
	return s.emit(event)
}

func (s *turnStream) publish(eventType string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := s.next(eventType, payload)
	if s.broker != nil {
		s.broker.Publish(event)
	}
}

func (s *turnStream) next(eventType string, payload map[string]any) events.ChatEvent {
	s.seq++
	return events.NewChatEvent(s.chatID, s.seq, eventType, payload)
}
