package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/promptmack/assistant/internal/llm"
	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/tools"
)

// Message is the wire form of one conversation message.
type Message struct {
	ID              string                 `json:"id,omitempty"`
	Role            string                 `json:"role"`
	Content         string                 `json:"content"`
	ToolInvocations []store.ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
}

// Normalize drops messages with empty content and fills missing ids and
// timestamps. Messages that only carry tool invocations are kept.
func Normalize(messages []Message, now time.Time) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Content) == 0 && len(msg.ToolInvocations) == 0 {
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt == "" {
			msg.CreatedAt = store.FormatTime(now)
		}
		out = append(out, msg)
	}
	return out
}

func FromStore(messages []store.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range store.CloneMessages(messages) {
		out = append(out, Message{
			ID:              msg.ID,
			Role:            msg.Role,
			Content:         msg.Content,
			ToolInvocations: msg.ToolInvocations,
			CreatedAt:       msg.CreatedAt,
		})
	}
	return out
}

func toStore(messages []Message) []store.Message {
	out := make([]store.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, store.Message{
			ID:              msg.ID,
			Role:            msg.Role,
			Content:         msg.Content,
			ToolInvocations: msg.ToolInvocations,
			CreatedAt:       msg.CreatedAt,
		})
	}
	return out
}

// toModelMessages replays the transcript for the model. Assistant tool
// invocations without an outcome are left out since every tool call sent to
// the model needs a matching tool message.
func toModelMessages(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: msg.Content})
		case llm.RoleAssistant:
			reply := llm.Message{Role: llm.RoleAssistant, Content: msg.Content}
			var results []llm.Message
			for _, inv := range msg.ToolInvocations {
				if inv.State != string(tools.StateCompleted) && inv.State != string(tools.StateErrored) {
					continue
				}
				args := string(inv.Args)
				if args == "" {
					args = "{}"
				}
				reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{ID: inv.ToolCallID, Name: inv.ToolName, Arguments: args})
				results = append(results, llm.Message{Role: llm.RoleTool, ToolCallID: inv.ToolCallID, Content: toolContent(inv)})
			}
			out = append(out, reply)
			out = append(out, results...)
		}
	}
	return out
}

func toolContent(inv store.ToolInvocation) string {
	if len(inv.Result) > 0 {
		return string(inv.Result)
	}
	raw, _ := json.Marshal(tools.ErrorResult{Error: inv.Error})
	return string(raw)
}

func recordInvocation(inv *tools.Invocation) store.ToolInvocation {
	record := store.ToolInvocation{
		ToolCallID: inv.ID,
		ToolName:   inv.ToolName,
		State:      string(inv.State),
		Error:      inv.Error,
	}
	if raw, err := json.Marshal(inv.Args); err == nil {
		record.Args = raw
	}
	if inv.Result != nil {
		if raw, err := json.Marshal(inv.Result); err == nil {
			record.Result = raw
		}
	}
	return record
}
