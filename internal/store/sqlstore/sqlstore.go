// Package sqlstore persists users, sessions and chat transcripts in Postgres
// (pgx) or SQLite (modernc). Queries are written with ? placeholders and
// rebound for Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/store/sqlstore/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var requiredTables = []string{"users", "sessions", "chats", "messages"}

type SQLStore struct {
	db     *sql.DB
	driver string
}

type Options struct {
	Driver string
	DSN    string
	// Migrate applies pending migrations on open; otherwise the schema is only verified.
	Migrate bool
}

var openDB = sql.Open

func New(opts Options) (*SQLStore, error) {
	db, err := Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if opts.Migrate {
		err = Migrate(db, opts.Driver)
	} else {
		err = verifySchema(ctx, db, opts.Driver)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: opts.Driver}, nil
}

// Wrap uses an already opened handle.
func Wrap(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func Open(driver string, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("DATABASE_URL is required for postgres driver")
		}
		db, err := openDB("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		path = "data/assistant.sqlite3"
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if path == ":memory:" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

var gooseMu sync.Mutex

// Migrate runs all pending goose migrations.
func Migrate(db *sql.DB, driver string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func gooseDialect(driver string) string {
	if driver == DriverSQLite {
		return "sqlite3"
	}
	return driver
}

func verifySchema(ctx context.Context, db *sql.DB, driver string) error {
	for _, table := range requiredTables {
		var found sql.NullString
		var err error
		if driver == DriverPostgres {
			err = db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&found)
		} else {
			err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				err = nil
			}
		}
		if err != nil {
			return err
		}
		if !found.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run `assistant migrate`)", table)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) CreateUser(ctx context.Context, user store.User) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	existing, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return store.ErrDuplicate
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`), user.ID, email, user.PasswordHash, user.CreatedAt)
	return err
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (*store.User, error) {
	return s.getUser(ctx, "id", userID)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQLStore) getUser(ctx context.Context, column string, value string) (*store.User, error) {
	query := s.rebind("SELECT id, email, password_hash, created_at FROM users WHERE " + column + " = ?")
	var user store.User
	err := s.db.QueryRowContext(ctx, query, value).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, session store.Session) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (token_hash, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`), session.TokenHash, session.UserID, session.ExpiresAt, session.CreatedAt)
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, tokenHash string) (*store.Session, error) {
	var session store.Session
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT token_hash, user_id, expires_at, created_at FROM sessions WHERE token_hash = ?
	`), tokenHash).Scan(&session.TokenHash, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE token_hash = ?"), tokenHash)
	return err
}

func (s *SQLStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE expires_at <= ?"), store.FormatTime(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveChat upserts the chat row and replaces its messages in one transaction.
func (s *SQLStore) SaveChat(ctx context.Context, chat store.Chat) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := store.FormatTime(time.Now())
	createdAt := chat.CreatedAt
	if createdAt == "" {
		createdAt = now
	}
	updatedAt := chat.UpdatedAt
	if updatedAt == "" {
		updatedAt = now
	}
	result, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO chats (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = CASE WHEN excluded.title = '' THEN chats.title ELSE excluded.title END,
			updated_at = excluded.updated_at
		WHERE chats.user_id = excluded.user_id
	`), chat.ID, chat.UserID, chat.Title, createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	if affected == 0 {
		err = store.ErrForbidden
		return err
	}
	if _, err = tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE chat_id = ?"), chat.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	insert := s.rebind(`
		INSERT INTO messages (chat_id, sequence, id, role, content, tool_invocations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for idx, msg := range chat.Messages {
		invocations := msg.ToolInvocations
		if invocations == nil {
			invocations = []store.ToolInvocation{}
		}
		encoded, marshalErr := json.Marshal(invocations)
		if marshalErr != nil {
			err = marshalErr
			return err
		}
		msgCreated := msg.CreatedAt
		if msgCreated == "" {
			msgCreated = updatedAt
		}
		if _, err = tx.ExecContext(ctx, insert, chat.ID, int64(idx+1), msg.ID, msg.Role, msg.Content, string(encoded), msgCreated); err != nil {
			return fmt.Errorf("insert message %d: %w", idx+1, err)
		}
	}
	err = tx.Commit()
	return err
}

func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, title, created_at, updated_at FROM chats WHERE id = ?
	`), chatID).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	messages, err := s.listMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Messages = messages
	return &chat, nil
}

func (s *SQLStore) listMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, chat_id, role, content, sequence, tool_invocations, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY sequence ASC
	`), chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := []store.Message{}
	for rows.Next() {
		var msg store.Message
		var invocations string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Sequence, &invocations, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if invocations != "" && invocations != "[]" {
			if err := json.Unmarshal([]byte(invocations), &msg.ToolInvocations); err != nil {
				return nil, fmt.Errorf("decode tool invocations: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLStore) ListChats(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at, COUNT(m.sequence)
		FROM chats c
		LEFT JOIN messages m ON m.chat_id = c.id
		WHERE c.user_id = ?
		GROUP BY c.id, c.user_id, c.title, c.created_at, c.updated_at
		ORDER BY c.created_at DESC
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []store.ChatSummary{}
	for rows.Next() {
		var summary store.ChatSummary
		if err := rows.Scan(&summary.ID, &summary.UserID, &summary.Title, &summary.CreatedAt, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, err
		}
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLStore) DeleteChat(ctx context.Context, chatID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE chat_id = ?"), chatID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chats WHERE id = ?"), chatID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = store.ErrNotFound
		return err
	}
	err = tx.Commit()
	return err
}
