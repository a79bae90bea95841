package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrForbidden = errors.New("record belongs to another user")
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(TimeLayout, value); err == nil {
		return parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed
	}
	return time.Time{}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    string
}

// Session rows are keyed by the SHA-256 of the bearer token, never the token itself.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt string
	CreatedAt string
}

type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      string          `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type Message struct {
	ID              string
	ChatID          string
	Role            string
	Content         string
	Sequence        int64
	ToolInvocations []ToolInvocation
	CreatedAt       string
}

type Chat struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt string
	UpdatedAt string
	Messages  []Message
}

type ChatSummary struct {
	ID           string
	UserID       string
	Title        string
	CreatedAt    string
	UpdatedAt    string
	MessageCount int64
}

// Getters return (nil, nil) when the record does not exist. DeleteChat reports
// ErrNotFound for an unknown chat. SaveChat reports ErrForbidden when the chat
// id is already owned by a different user.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	SaveChat(ctx context.Context, chat Chat) error
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	ListChats(ctx context.Context, userID string) ([]ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string) error
	Ping(ctx context.Context) error
}

// ChatTitle derives a history title from the first user message.
func ChatTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		title := []rune(msg.Content)
		if len(title) == 0 {
			continue
		}
		if len(title) > 80 {
			return string(title[:80]) + "..."
		}
		return string(title)
	}
	return "New chat"
}

func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	cloned := make([]Message, 0, len(messages))
	for _, msg := range messages {
		copy := msg
		if msg.ToolInvocations != nil {
			copy.ToolInvocations = make([]ToolInvocation, 0, len(msg.ToolInvocations))
			for _, inv := range msg.ToolInvocations {
				invCopy := inv
				invCopy.Args = append(json.RawMessage(nil), inv.Args...)
				invCopy.Result = append(json.RawMessage(nil), inv.Result...)
				copy.ToolInvocations = append(copy.ToolInvocations, invCopy)
			}
		}
		cloned = append(cloned, copy)
	}
	return cloned
}
