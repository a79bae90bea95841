package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/promptmack/assistant/internal/store"
)

// Transcript is the full message list of a finished turn.
type Transcript struct {
	ChatID   string
	UserID   string
	Messages []Message
}

// Hook runs after a turn has been delivered. Its error never reaches the
// response; it goes to the orchestrator's hook error handler.
type Hook func(ctx context.Context, transcript Transcript) error

type HookErrorHandler func(transcript Transcript, err error)

func LogHookError(transcript Transcript, err error) {
	log.Printf("chat %s: failed to save chat: %v", transcript.ChatID, err)
}

// PersistTranscript saves the transcript under its chat id and owner.
func PersistTranscript(st store.Store) Hook {
	return func(ctx context.Context, transcript Transcript) error {
		messages := toStore(transcript.Messages)
		err := st.SaveChat(ctx, store.Chat{
			ID:        transcript.ChatID,
			UserID:    transcript.UserID,
			Title:     store.ChatTitle(messages),
			UpdatedAt: store.FormatTime(time.Now()),
			Messages:  messages,
		})
		if errors.Is(err, store.ErrForbidden) {
			return ErrUnauthorized
		}
		return err
	}
}
