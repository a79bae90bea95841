// Package auth handles email/password users and opaque session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/promptmack/assistant/internal/store"
)

const (
	CookieName        = "session"
	DefaultSessionTTL = 30 * 24 * time.Hour
	minPasswordLength = 6
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type Options struct {
	SessionTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

type Service struct {
	store      store.Store
	sessionTTL time.Duration
	cost       int
	now        func() time.Time
}

// Session is a freshly issued token. Only its hash is stored.
type Session struct {
	Token     string
	User      store.User
	ExpiresAt time.Time
}

var generateToken = func() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func NewService(st store.Store, opts Options) *Service {
	svc := &Service{store: st, sessionTTL: opts.SessionTTL, cost: opts.BcryptCost, now: opts.Now}
	if svc.sessionTTL <= 0 {
		svc.sessionTTL = DefaultSessionTTL
	}
	if svc.cost == 0 {
		svc.cost = bcrypt.DefaultCost
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", &ValidationError{Field: "email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Reason: "is invalid"}
	}
	return email, nil
}

func (s *Service) Register(ctx context.Context, email string, password string) (*store.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    store.FormatTime(s.now()),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) Login(ctx context.Context, email string, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, *user)
}

func (s *Service) issue(ctx context.Context, user store.User) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	expires := now.Add(s.sessionTTL)
	if err := s.store.CreateSession(ctx, store.Session{
		TokenHash: HashToken(token),
		UserID:    user.ID,
		ExpiresAt: store.FormatTime(expires),
		CreatedAt: store.FormatTime(now),
	}); err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user, ExpiresAt: expires}, nil
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	hash := HashToken(token)
	session, err := s.store.GetSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrUnauthorized
	}
	if !store.ParseTime(session.ExpiresAt).After(s.now()) {
		_ = s.store.DeleteSession(ctx, hash)
		return nil, ErrUnauthorized
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, HashToken(token))
}

func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, s.now())
}
