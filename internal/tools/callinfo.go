package tools

import "context"

// CallInfo identifies who asked for a tool call. Tools read it to attach
// ownership to side records such as pending jobs or uploaded images.
type CallInfo struct {
	ChatID     string
	UserID     string
	ToolCallID string
}

type callInfoKey struct{}

func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

func CallInfoFrom(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callInfoKey{}).(CallInfo)
	return info
}
