package llm

import (
	"context"
	"strings"
)

// LocalProvider answers without a model by echoing the last user message.
// It keeps the server usable in development without API keys.
type LocalProvider struct{}

func (LocalProvider) Stream(ctx context.Context, req Request, onText TextFunc) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	last := ""
	for idx := len(req.Messages) - 1; idx >= 0; idx-- {
		if req.Messages[idx].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[idx].Content)
			break
		}
	}
	text := "(local mode) " + last
	if last == "" {
		text = "(local mode) no user message"
	}
	if onText != nil {
		if err := onText(text); err != nil {
			return StepResult{}, err
		}
	}
	return StepResult{Text: text, FinishReason: "stop"}, nil
}
