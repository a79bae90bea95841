package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/promptmack/assistant/internal/chat"
	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/store"
)

type chatRequest struct {
	ID       string         `json:"id"`
	Messages []chat.Message `json:"messages"`
}

// sseStream defers the response headers until the first event so failures
// before the turn produces output can still be answered with a status code.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseStream) emit(event events.ChatEvent) error {
	if !s.started {
		header := s.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := sendSSE(s.w, event); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := &sseStream{w: w, flusher: flusher}
	err := s.chat.Run(r.Context(), chat.Turn{ChatID: req.ID, UserID: user.ID, Messages: req.Messages}, stream.emit)
	if err == nil {
		return
	}
	if stream.started {
		log.Printf("chat %s: turn failed mid-stream: %v", req.ID, err)
		_ = stream.emit(events.NewChatEvent(req.ID, 0, events.TypeError, map[string]any{"message": "An error occurred while generating the response."}))
		return
	}
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrMissingChatID):
		http.Error(w, "Not Found", http.StatusNotFound)
	default:
		log.Printf("chat %s: turn failed: %v", req.ID, err)
		http.Error(w, "An error occurred while processing your request", http.StatusInternalServerError)
	}
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("id"))
	if chatID == "" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	user := currentUser(r)
	if err := s.chat.Delete(r.Context(), chatID, user.ID); err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, fmt.Sprintf("An error occurred while processing your request: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Chat deleted"))
}

type chatResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt"`
	Messages  []chat.Message `json:"messages"`
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	loaded, err := s.chat.Load(r.Context(), chi.URLParam(r, "id"), user.ID)
	if !s.writeChatLookupError(w, err) {
		return
	}
	writeJSON(w, chatResponse{
		ID:        loaded.ID,
		Title:     loaded.Title,
		CreatedAt: loaded.CreatedAt,
		UpdatedAt: loaded.UpdatedAt,
		Messages:  chat.FromStore(loaded.Messages),
	})
}

// writeChatLookupError answers a failed Load and reports whether the caller may continue.
func (s *Server) writeChatLookupError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, chat.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, chat.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return false
}

type historyEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
	MessageCount int64  `json:"messageCount"`
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	summaries, err := s.chat.History(r.Context(), user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]historyEntry, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, toHistoryEntry(summary))
	}
	writeJSON(w, out)
}

func toHistoryEntry(summary store.ChatSummary) historyEntry {
	return historyEntry{
		ID:           summary.ID,
		Title:        summary.Title,
		CreatedAt:    summary.CreatedAt,
		UpdatedAt:    summary.UpdatedAt,
		MessageCount: summary.MessageCount,
	}
}

// streamChatEvents lets other tabs of the owner watch turns of a chat as they happen.
func (s *Server) streamChatEvents(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	user := currentUser(r)
	if _, err := s.chat.Load(r.Context(), chatID, user.ID); !s.writeChatLookupError(w, err) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, chatID)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if err := sendSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s:%d\nevent: %s\ndata: %s\n\n", event.ChatID, event.Seq, event.Type, payload)
	return err
}
