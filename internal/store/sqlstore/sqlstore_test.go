package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/promptmack/assistant/internal/store"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New(Options{Driver: DriverSQLite, DSN: ":memory:", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMockStore(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return Wrap(db, driver), mock, cleanup
}

func TestRebind(t *testing.T) {
	pg := Wrap(nil, DriverPostgres)
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := Wrap(nil, DriverSQLite)
	require.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.ErrorContains(t, err, "unsupported db driver")

	_, err = Open(DriverPostgres, " ")
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestSQLiteFileDatabaseMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "assistant.sqlite3")
	first, err := New(Options{Driver: DriverSQLite, DSN: path, Migrate: true})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestVerifySchemaReportsMissingTable(t *testing.T) {
	_, err := New(Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.ErrorContains(t, err, "users table not found")
}

func TestUsersAndSessions(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.CreateUser(ctx, store.User{ID: "u-1", Email: "Ada@Example.com", PasswordHash: "hash", CreatedAt: store.FormatTime(time.Now())}))
	require.ErrorIs(t, s.CreateUser(ctx, store.User{ID: "u-2", Email: "ada@example.com", PasswordHash: "x"}), store.ErrDuplicate)

	user, err := s.GetUserByEmail(ctx, " ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "u-1", user.ID)

	missing, err := s.GetUser(ctx, "u-404")
	require.NoError(t, err)
	require.Nil(t, missing)

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateSession(ctx, store.Session{TokenHash: "h-old", UserID: "u-1", ExpiresAt: store.FormatTime(now.Add(-time.Second)), CreatedAt: store.FormatTime(now)}))
	require.NoError(t, s.CreateSession(ctx, store.Session{TokenHash: "h-new", UserID: "u-1", ExpiresAt: store.FormatTime(now.Add(time.Hour)), CreatedAt: store.FormatTime(now)}))

	purged, err := s.PurgeExpiredSessions(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	session, err := s.GetSession(ctx, "h-new")
	require.NoError(t, err)
	require.Equal(t, "u-1", session.UserID)

	require.NoError(t, s.DeleteSession(ctx, "h-new"))
	session, err = s.GetSession(ctx, "h-new")
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestChatTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	messages := []store.Message{
		{ID: "m-1", Role: "user", Content: "map https://example.com"},
		{ID: "m-2", Role: "assistant", ToolInvocations: []store.ToolInvocation{{
			ToolCallID: "call-1",
			ToolName:   "firecrawlMap",
			Args:       json.RawMessage(`{"url":"https://example.com"}`),
			State:      "result",
			Result:     json.RawMessage(`{"nodes":[],"links":[],"message":"No URLs found on this website"}`),
		}}},
		{ID: "m-3", Role: "assistant", Content: "The site has no public pages."},
		{ID: "m-4", Role: "user", Content: "ok, thanks"},
	}

	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-1", Title: "Map", Messages: messages}))

	chat, err := s.GetChat(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, chat)
	require.Equal(t, "Map", chat.Title)
	require.Len(t, chat.Messages, len(messages))
	for idx, msg := range chat.Messages {
		require.Equal(t, messages[idx].ID, msg.ID)
		require.Equal(t, messages[idx].Role, msg.Role)
		require.Equal(t, messages[idx].Content, msg.Content)
		require.Equal(t, int64(idx+1), msg.Sequence)
	}
	require.Nil(t, chat.Messages[0].ToolInvocations)
	require.Len(t, chat.Messages[1].ToolInvocations, 1)
	inv := chat.Messages[1].ToolInvocations[0]
	require.Equal(t, "call-1", inv.ToolCallID)
	require.JSONEq(t, `{"url":"https://example.com"}`, string(inv.Args))
	require.JSONEq(t, `{"nodes":[],"links":[],"message":"No URLs found on this website"}`, string(inv.Result))

	// saving again replaces the transcript and keeps the title
	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-1", Messages: messages[:2]}))
	chat, err = s.GetChat(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)
	require.Equal(t, "Map", chat.Title)
}

func TestListAndDeleteChats(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-old", UserID: "u-1", CreatedAt: "2026-01-01T00:00:00.000000000Z"}))
	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-new", UserID: "u-1", CreatedAt: "2026-02-01T00:00:00.000000000Z", Messages: []store.Message{{ID: "m", Role: "user", Content: "hi"}}}))
	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-x", UserID: "u-2"}))

	chats, err := s.ListChats(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, "c-new", chats[0].ID)
	require.Equal(t, int64(1), chats[0].MessageCount)

	require.NoError(t, s.DeleteChat(ctx, "c-new"))
	require.ErrorIs(t, s.DeleteChat(ctx, "c-new"), store.ErrNotFound)

	chat, err := s.GetChat(ctx, "c-new")
	require.NoError(t, err)
	require.Nil(t, chat)
}

func TestSaveChatRefusesOtherOwner(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-1", Title: "Mine", Messages: []store.Message{{ID: "m-1", Role: "user", Content: "hi"}}}))

	err := s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-2", Title: "Theirs"})
	require.ErrorIs(t, err, store.ErrForbidden)

	chat, err := s.GetChat(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, "u-1", chat.UserID)
	require.Equal(t, "Mine", chat.Title)
	require.Len(t, chat.Messages, 1)
}

func TestSaveChat_NoRowsAffectedRollsBack(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET .* WHERE chats.user_id = excluded.user_id`).
		WithArgs("c-1", "u-2", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-2"})
	require.ErrorIs(t, err, store.ErrForbidden)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifySchema_QueryError(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WillReturnError(errors.New("query error"))
	if err := verifySchema(ctx, s.db, DriverPostgres); err == nil {
		t.Fatalf("expected schema verification error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveChat_RollsBackOnInsertError(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM messages WHERE chat_id = \$1`).WithArgs("c-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveChat(ctx, store.Chat{ID: "c-1", UserID: "u-1", Messages: []store.Message{{ID: "m-1", Role: "user", Content: "hi"}}})
	require.ErrorContains(t, err, "insert message 1")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMessages_RowsErr(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "sequence", "tool_invocations", "created_at"}).
		AddRow("m-1", "c-1", "user", "hi", int64(1), "[]", "now").
		AddRow("m-2", "c-1", "user", "hi", int64(2), "[]", "now")
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT id, chat_id, role, content, sequence, tool_invocations, created_at").WillReturnRows(rows)
	if _, err := s.listMessages(ctx, "c-1"); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMessages_BadInvocationJSON(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "sequence", "tool_invocations", "created_at"}).
		AddRow("m-1", "c-1", "assistant", "", int64(1), "{not json", "now")
	mock.ExpectQuery("SELECT id, chat_id, role").WillReturnRows(rows)

	_, err := s.listMessages(ctx, "c-1")
	require.ErrorContains(t, err, "decode tool invocations")
}

func TestDeleteChat_NotFoundRollsBack(t *testing.T) {
	ctx := context.Background()
	s, mock, cleanup := newMockStore(t, DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM chats").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.ErrorIs(t, s.DeleteChat(ctx, "c-1"), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
