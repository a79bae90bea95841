package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/promptmack/assistant/internal/auth"
	"github.com/promptmack/assistant/internal/chat"
	"github.com/promptmack/assistant/internal/config"
	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/store/memory"
)

type fakeChat struct {
	run    func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error
	store  store.Store
	delete func(chatID string, userID string) error
}

func (f *fakeChat) Run(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
	return f.run(ctx, turn, emit)
}

func (f *fakeChat) Load(ctx context.Context, chatID string, userID string) (*store.Chat, error) {
	loaded, err := f.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, chat.ErrNotFound
	}
	if loaded.UserID != userID {
		return nil, chat.ErrUnauthorized
	}
	return loaded, nil
}

func (f *fakeChat) History(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	return f.store.ListChats(ctx, userID)
}

func (f *fakeChat) Delete(ctx context.Context, chatID string, userID string) error {
	return f.delete(chatID, userID)
}

type testServer struct {
	server *Server
	store  *memory.MemoryStore
	auth   *auth.Service
	broker *events.Broker
	chat   *fakeChat
}

func newTestServer(t *testing.T, cfg config.Config, mutate func(*Deps)) *testServer {
	t.Helper()
	st := memory.New()
	authSvc := auth.NewService(st, auth.Options{BcryptCost: bcrypt.MinCost})
	broker := events.NewBroker()
	fake := &fakeChat{
		store: st,
		run: func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
			return nil
		},
		delete: func(chatID string, userID string) error { return nil },
	}
	deps := Deps{Store: st, Auth: authSvc, Chat: fake, Broker: broker}
	if mutate != nil {
		mutate(&deps)
	}
	return &testServer{
		server: NewServer(deps, cfg),
		store:  st,
		auth:   authSvc,
		broker: broker,
		chat:   fake,
	}
}

// login registers a user and returns a bearer token for it.
func (ts *testServer) login(t *testing.T, email string) (string, *store.User) {
	t.Helper()
	user, err := ts.auth.Register(context.Background(), email, "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	session, err := ts.auth.Login(context.Background(), email, "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return session.Token, user
}

func (ts *testServer) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func seedChat(t *testing.T, st store.Store, chatID string, userID string) {
	t.Helper()
	err := st.SaveChat(context.Background(), store.Chat{
		ID:     chatID,
		UserID: userID,
		Title:  "Weather in Paris",
		Messages: []store.Message{
			{ID: "m1", Role: "user", Content: "Weather in Paris"},
			{ID: "m2", Role: "assistant", Content: "Sunny."},
		},
	})
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
}
