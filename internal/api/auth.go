package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/promptmack/assistant/internal/auth"
	"github.com/promptmack/assistant/internal/store"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func toUserResponse(user store.User) userResponse {
	return userResponse{ID: user.ID, Email: user.Email}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	user, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSONStatus(w, toUserResponse(*user), http.StatusCreated)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	http.SetCookie(w, auth.SessionCookie(session, s.cfg.SecureCookies))
	writeJSON(w, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      toUserResponse(session.User),
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		log.Printf("auth: logout failed: %v", err)
	}
	http.SetCookie(w, auth.ClearedCookie(s.cfg.SecureCookies))
	w.WriteHeader(http.StatusNoContent)
}

func writeAuthError(w http.ResponseWriter, err error) {
	var validation *auth.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSONError(w, validation.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrEmailTaken):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONError(w, err.Error(), http.StatusUnauthorized)
	default:
		log.Printf("auth: %v", err)
		writeJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

type selfTestResponse struct {
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	User        *userResponse   `json:"user,omitempty"`
	ChatCount   *int            `json:"chatCount,omitempty"`
	Timestamp   string          `json:"timestamp"`
	Environment map[string]bool `json:"environment,omitempty"`
}

// selfTest reports whether the caller's session works and which vendor
// credentials are configured.
func (s *Server) selfTest(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	user := currentUser(r)
	if user == nil {
		writeJSON(w, selfTestResponse{Status: "error", Message: "Not authenticated", Timestamp: now})
		return
	}
	summaries, err := s.chat.History(r.Context(), user.ID)
	if err != nil {
		writeJSONStatus(w, selfTestResponse{Status: "error", Message: err.Error(), Timestamp: now}, http.StatusInternalServerError)
		return
	}
	count := len(summaries)
	profile := toUserResponse(*user)
	writeJSON(w, selfTestResponse{
		Status:    "success",
		Message:   "All systems operational",
		User:      &profile,
		ChatCount: &count,
		Timestamp: now,
		Environment: map[string]bool{
			"hasLLMKey":       s.cfg.LLMMode == "local" || s.cfg.LLMAPIKey() != "",
			"hasSerperKey":    s.cfg.SerperAPIKey != "",
			"hasExaKey":       s.cfg.ExaAPIKey != "",
			"hasSkyvernKey":   s.cfg.SkyvernAPIKey != "",
			"hasFirecrawlKey": s.cfg.FirecrawlAPIKey != "",
			"hasBlobStorage":  s.cfg.BlobEndpoint != "",
			"hasJobTracker":   s.cfg.RedisURL != "",
		},
	})
}
