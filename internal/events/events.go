// Package events fans chat turn events out to observers of a chat.
package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	TypeText       = "text"
	TypeToolCall   = "tool-call"
	TypeToolResult = "tool-result"
	TypeStepFinish = "step-finish"
	TypeFinish     = "finish"
	TypeError      = "error"
)

type ChatEvent struct {
	ChatID  string         `json:"chatId"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

func NewChatEvent(chatID string, seq int64, eventType string, payload map[string]any) ChatEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return ChatEvent{
		ChatID:  chatID,
		Seq:     seq,
		Type:    NormalizeType(eventType),
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ChatEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ChatEvent]struct{}{},
	}
}

// Subscribe returns a buffered channel of events for chatID. The channel is
// closed once ctx is done.
func (b *Broker) Subscribe(ctx context.Context, chatID string) <-chan ChatEvent {
	ch := make(chan ChatEvent, 64)

	b.mu.Lock()
	if b.subscribers[chatID] == nil {
		b.subscribers[chatID] = map[chan ChatEvent]struct{}{}
	}
	b.subscribers[chatID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[chatID] != nil {
			delete(b.subscribers[chatID], ch)
			if len(b.subscribers[chatID]) == 0 {
				delete(b.subscribers, chatID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish never blocks: slow subscribers miss events once their buffer is full.
func (b *Broker) Publish(event ChatEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.ChatID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) Subscribers(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chatID])
}
