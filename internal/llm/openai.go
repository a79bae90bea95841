package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility layer.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		client:  openai.NewClientWithConfig(clientCfg),
	}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onText TextFunc) (StepResult, error) {
	if p.apiKey == "" {
		return StepResult{}, errors.New("missing API key for remote provider")
	}
	if p.model == "" {
		return StepResult{}, errors.New("missing model for remote provider")
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(req),
		Tools:    toOpenAITools(req.Tools),
		Stream:   true,
	})
	if err != nil {
		return StepResult{}, fmt.Errorf("LLM request failed: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	var calls []ToolCall
	finishReason := ""
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return StepResult{}, fmt.Errorf("LLM stream failed: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if onText != nil {
					if err := onText(choice.Delta.Content); err != nil {
						return StepResult{}, err
					}
				}
			}
			if len(choice.Delta.ToolCalls) > 0 {
				calls = mergeToolCalls(calls, choice.Delta.ToolCalls)
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}
	}
	for idx := range calls {
		if calls[idx].ID == "" {
			calls[idx].ID = "call_" + uuid.NewString()
		}
	}
	if finishReason == "" {
		finishReason = "stop"
		if len(calls) > 0 {
			finishReason = "tool_calls"
		}
	}
	return StepResult{Text: text.String(), ToolCalls: calls, FinishReason: finishReason}, nil
}

// mergeToolCalls folds streamed tool call fragments together. Fragments carry
// an index when the provider splits arguments across chunks. A bare fragment
// with no index, id or name continues the most recent call.
func mergeToolCalls(calls []ToolCall, deltas []openai.ToolCall) []ToolCall {
	for _, delta := range deltas {
		target := -1
		switch {
		case delta.Index != nil && *delta.Index < len(calls):
			target = *delta.Index
		case delta.Index == nil && delta.ID != "":
			for idx := range calls {
				if calls[idx].ID == delta.ID {
					target = idx
					break
				}
			}
		case delta.Index == nil && delta.Function.Name == "" && len(calls) > 0:
			target = len(calls) - 1
		}
		if target < 0 {
			calls = append(calls, ToolCall{})
			target = len(calls) - 1
		}
		if delta.ID != "" {
			calls[target].ID = delta.ID
		}
		if delta.Function.Name != "" {
			calls[target].Name = delta.Function.Name
		}
		calls[target].Arguments += delta.Function.Arguments
	}
	return calls
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		converted := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
