package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptmack/assistant/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]store.User
	emails   map[string]string
	sessions map[string]store.Session
	chats    map[string]store.Chat
}

func New() *MemoryStore {
	return &MemoryStore{
		users:    map[string]store.User{},
		emails:   map[string]string{},
		sessions: map[string]store.Session{},
		chats:    map[string]store.Chat{},
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := normalizeEmail(user.Email)
	if _, exists := m.emails[email]; exists {
		return store.ErrDuplicate
	}
	user.Email = email
	m.users[user.ID] = user
	m.emails[email] = user.ID
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, userID string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.emails[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	user := m.users[userID]
	return &user, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, tokenHash string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

func (m *MemoryStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for hash, session := range m.sessions {
		if !store.ParseTime(session.ExpiresAt).After(now) {
			delete(m.sessions, hash)
			purged++
		}
	}
	return purged, nil
}

// SaveChat upserts the chat row and replaces its transcript.
func (m *MemoryStore) SaveChat(ctx context.Context, chat store.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := store.FormatTime(time.Now())
	if existing, ok := m.chats[chat.ID]; ok {
		if existing.UserID != chat.UserID {
			return store.ErrForbidden
		}
		chat.CreatedAt = existing.CreatedAt
		if chat.Title == "" {
			chat.Title = existing.Title
		}
	} else if chat.CreatedAt == "" {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt == "" {
		chat.UpdatedAt = now
	}
	chat.Messages = store.CloneMessages(chat.Messages)
	for idx := range chat.Messages {
		chat.Messages[idx].ChatID = chat.ID
		chat.Messages[idx].Sequence = int64(idx + 1)
	}
	m.chats[chat.ID] = chat
	return nil
}

func (m *MemoryStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	chat.Messages = store.CloneMessages(chat.Messages)
	return &chat, nil
}

func (m *MemoryStore) ListChats(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.ChatSummary, 0)
	for _, chat := range m.chats {
		if chat.UserID != userID {
			continue
		}
		results = append(results, store.ChatSummary{
			ID:           chat.ID,
			UserID:       chat.UserID,
			Title:        chat.Title,
			CreatedAt:    chat.CreatedAt,
			UpdatedAt:    chat.UpdatedAt,
			MessageCount: int64(len(chat.Messages)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return store.ParseTime(results[i].CreatedAt).After(store.ParseTime(results[j].CreatedAt))
	})
	return results, nil
}

func (m *MemoryStore) DeleteChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return store.ErrNotFound
	}
	delete(m.chats, chatID)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
