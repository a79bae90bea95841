package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptmack/assistant/internal/auth"
	"github.com/promptmack/assistant/internal/blob"
	"github.com/promptmack/assistant/internal/chat"
	"github.com/promptmack/assistant/internal/config"
	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/jobs"
	"github.com/promptmack/assistant/internal/tools"
)

func TestShouldSuppressRequestLog(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/api/chat/c1/events", true},
		{http.MethodGet, "/health", true},
		{http.MethodGet, "/ready", true},
		{http.MethodOptions, "/api/chat", true},
		{http.MethodPost, "/api/chat", false},
		{http.MethodGet, "/api/history", false},
	}
	for _, tc := range cases {
		if got := shouldSuppressRequestLog(tc.method, tc.path); got != tc.want {
			t.Fatalf("shouldSuppressRequestLog(%s, %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeJSON[readinessResponse](t, rec)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Subsystems["store"].Status)
}

func TestReady_DegradedCheck(t *testing.T) {
	ts := newTestServer(t, config.Config{}, func(deps *Deps) {
		deps.Checks = map[string]ReadyCheck{
			"jobs": func(ctx context.Context) error { return errors.New("redis down") },
			"blob": func(ctx context.Context) error { return nil },
		}
	})
	rec := ts.do(t, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decodeJSON[readinessResponse](t, rec)
	require.Equal(t, "degraded", ready.Status)
	require.Equal(t, subsystemStatus{Status: "error", Error: "redis down"}, ready.Subsystems["jobs"])
	require.Equal(t, "ok", ready.Subsystems["blob"].Status)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)

	rec := ts.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{Email: "Ada@Example.com", Password: "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[userResponse](t, rec)
	require.Equal(t, "ada@example.com", created.Email)
	require.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{Email: "ada@example.com", Password: "secret123"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/register", "", credentialsRequest{Email: "bob@example.com", Password: "123"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "password")

	rec = ts.do(t, http.MethodPost, "/auth/login", "", credentialsRequest{Email: "ada@example.com", Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", "", credentialsRequest{Email: "ada@example.com", Password: "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeJSON[sessionResponse](t, rec)
	require.NotEmpty(t, session.Token)
	require.Equal(t, created.ID, session.User.ID)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, auth.CookieName, cookies[0].Name)
	require.Equal(t, session.Token, cookies[0].Value)

	rec = ts.do(t, http.MethodGet, "/api/history", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/logout", session.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)

	rec = ts.do(t, http.MethodGet, "/api/history", session.Token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/chat"},
		{http.MethodDelete, "/api/chat?id=c1"},
		{http.MethodGet, "/api/chat/c1"},
		{http.MethodGet, "/api/history"},
		{http.MethodGet, "/api/tools"},
		{http.MethodGet, "/api/jobs/j1"},
		{http.MethodGet, "/api/skyvern/tasks/t1"},
	} {
		rec := ts.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
	rec := ts.do(t, http.MethodGet, "/api/history", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostChat_StreamsEvents(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, user := ts.login(t, "ada@example.com")

	var got chat.Turn
	ts.chat.run = func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
		got = turn
		require.NoError(t, emit(events.NewChatEvent(turn.ChatID, 1, events.TypeText, map[string]any{"delta": "Hi"})))
		return emit(events.NewChatEvent(turn.ChatID, 2, events.TypeFinish, map[string]any{"finishReason": "stop"}))
	}

	rec := ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{
		"id":       "c1",
		"messages": []map[string]any{{"id": "m1", "role": "user", "content": "Hello"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, "id: c1:1\nevent: text\n")
	require.Contains(t, body, `"delta":"Hi"`)
	require.Contains(t, body, "id: c1:2\nevent: finish\n")

	require.Equal(t, "c1", got.ChatID)
	require.Equal(t, user.ID, got.UserID)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "Hello", got.Messages[0].Content)
}

func TestPostChat_RequestErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, _ := ts.login(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/api/chat", token, "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{"messages": []any{}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	ts.chat.run = func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
		return chat.ErrUnauthorized
	}
	rec = ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{"id": "c1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.chat.run = func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
		return errors.New("provider exploded")
	}
	rec = ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{"id": "c1"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "exploded")
}

func TestPostChat_ErrorAfterStreamStarted(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, _ := ts.login(t, "ada@example.com")
	ts.chat.run = func(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error {
		require.NoError(t, emit(events.NewChatEvent(turn.ChatID, 1, events.TypeText, map[string]any{"delta": "Par"})))
		return errors.New("stream cut")
	}

	rec := ts.do(t, http.MethodPost, "/api/chat", token, map[string]any{"id": "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: error\n")
	require.Contains(t, rec.Body.String(), "An error occurred while generating the response.")
}

func TestDeleteChat(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, user := ts.login(t, "ada@example.com")

	rec := ts.do(t, http.MethodDelete, "/api/chat", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var deleted []string
	ts.chat.delete = func(chatID string, userID string) error {
		if chatID == "theirs" {
			return chat.ErrUnauthorized
		}
		if chatID == "broken" {
			return errors.New("disk full")
		}
		require.Equal(t, user.ID, userID)
		deleted = append(deleted, chatID)
		return nil
	}

	rec = ts.do(t, http.MethodDelete, "/api/chat?id=c1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Chat deleted", rec.Body.String())
	require.Equal(t, []string{"c1"}, deleted)

	rec = ts.do(t, http.MethodDelete, "/api/chat?id=theirs", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/chat?id=broken", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "An error occurred while processing your request: disk full")
}

func TestGetChatAndHistory(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, user := ts.login(t, "ada@example.com")
	otherToken, other := ts.login(t, "bob@example.com")
	seedChat(t, ts.store, "c1", user.ID)
	seedChat(t, ts.store, "c2", other.ID)

	rec := ts.do(t, http.MethodGet, "/api/chat/c1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decodeJSON[chatResponse](t, rec)
	require.Equal(t, "c1", loaded.ID)
	require.Len(t, loaded.Messages, 2)
	require.Equal(t, "assistant", loaded.Messages[1].Role)

	rec = ts.do(t, http.MethodGet, "/api/chat/missing", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/chat/c1", otherToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeJSON[[]historyEntry](t, rec)
	require.Len(t, history, 1)
	require.Equal(t, "c1", history[0].ID)
	require.Equal(t, "Weather in Paris", history[0].Title)
	require.EqualValues(t, 2, history[0].MessageCount)
}

func TestStreamChatEvents(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, user := ts.login(t, "ada@example.com")
	seedChat(t, ts.store, "c1", user.ID)

	server := httptest.NewServer(ts.server.Router())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/chat/c1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return ts.broker.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)
	ts.broker.Publish(events.NewChatEvent("c1", 7, events.TypeToolCall, map[string]any{"toolName": "getWeather"}))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	require.Equal(t, "id: c1:7", lines[0])
	require.Equal(t, "event: tool-call", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "data: "))
	require.Contains(t, lines[2], `"toolName":"getWeather"`)
}

func TestStreamChatEvents_RequiresOwnership(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, _ := ts.login(t, "ada@example.com")
	_, other := ts.login(t, "bob@example.com")
	seedChat(t, ts.store, "c2", other.ID)

	rec := ts.do(t, http.MethodGet, "/api/chat/c2/events", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/chat/nope/events", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, token string, filename string, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadFile(t *testing.T) {
	blobs := blob.NewMemory("http://files.local")
	ts := newTestServer(t, config.Config{UploadMaxBytes: 64}, func(deps *Deps) { deps.Blobs = blobs })
	token, _ := ts.login(t, "ada@example.com")
	router := ts.server.Router()

	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("pixels")...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, token, "photo.png", "image/png", png))
	require.Equal(t, http.StatusOK, rec.Code)
	object := decodeJSON[blob.Object](t, rec)
	require.Equal(t, "image/png", object.ContentType)
	require.True(t, strings.HasPrefix(object.Pathname, "uploads/"), object.Pathname)
	require.True(t, strings.HasSuffix(object.Pathname, "-photo.png"), object.Pathname)
	stored, contentType, ok := blobs.Get(object.Pathname)
	require.True(t, ok)
	require.Equal(t, "image/png", contentType)
	require.Equal(t, png, stored)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, token, "notes.txt", "text/plain", []byte("plain words")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "File type should be JPEG, PNG, or PDF")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, token, "big.png", "image/png", bytes.Repeat([]byte("x"), 65)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "File size should be less than 5MB")
}

func TestUploadFile_NotConfigured(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil)
	token, _ := ts.login(t, "ada@example.com")
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, uploadRequest(t, token, "a.png", "image/png", []byte("x")))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeTasks struct {
	err error
}

func (f fakeTasks) GetTask(ctx context.Context, taskID string) (map[string]any, error) {
	return map[string]any{"task_id": taskID, "status": "running"}, f.err
}

func (f fakeTasks) TaskSteps(ctx context.Context, taskID string) (any, error) {
	return []any{map[string]any{"step_id": "s1"}}, f.err
}

func (f fakeTasks) CancelTask(ctx context.Context, taskID string) (map[string]any, error) {
	return map[string]any{"task_id": taskID, "status": "canceled"}, f.err
}

func TestSkyvernProxy(t *testing.T) {
	ts := newTestServer(t, config.Config{}, func(deps *Deps) { deps.Tasks = fakeTasks{} })
	token, _ := ts.login(t, "ada@example.com")

	rec := ts.do(t, http.MethodGet, "/api/skyvern/tasks/t1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"task_id":"t1","status":"running"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/skyvern/tasks/t1/steps", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"step_id":"s1"}]`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/skyvern/tasks/t1/cancel", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"task_id":"t1","status":"canceled"}`, rec.Body.String())
}

func TestSkyvernProxy_Failures(t *testing.T) {
	ts := newTestServer(t, config.Config{}, func(deps *Deps) { deps.Tasks = fakeTasks{err: errors.New("boom")} })
	token, _ := ts.login(t, "ada@example.com")

	rec := ts.do(t, http.MethodGet, "/api/skyvern/tasks/t1", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Failed to fetch task details"}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/skyvern/tasks/t1/cancel", token, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Failed to cancel task"}`, rec.Body.String())
}

type stubChecker struct {
	payload map[string]any
	done    bool
}

func (s stubChecker) JobStatus(ctx context.Context, kind string, jobID string) (map[string]any, bool, error) {
	return s.payload, s.done, nil
}

type fakeFollowUps struct {
	cancelled []string
	err       error
}

func (f *fakeFollowUps) CancelFollowUp(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return f.err
}

func TestGetJob(t *testing.T) {
	service := jobs.NewService(jobs.NewMemoryTracker(), stubChecker{payload: map[string]any{"status": "completed", "data": []any{}}, done: true})
	followUps := &fakeFollowUps{}
	ts := newTestServer(t, config.Config{}, func(deps *Deps) {
		deps.Jobs = service
		deps.FollowUps = followUps
	})
	token, user := ts.login(t, "ada@example.com")
	otherToken, _ := ts.login(t, "bob@example.com")
	require.NoError(t, service.RecordPending(context.Background(), jobs.AsyncJob{ID: "crawl-1", Kind: "crawl", UserID: user.ID}))
	require.NoError(t, service.RecordPending(context.Background(), jobs.AsyncJob{ID: "orphan-1", Kind: "crawl"}))

	rec := ts.do(t, http.MethodGet, "/api/jobs/crawl-1", otherToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs/missing", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs/orphan-1", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, followUps.cancelled)

	rec = ts.do(t, http.MethodGet, "/api/jobs/crawl-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeJSON[jobs.AsyncJob](t, rec)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Equal(t, 1, job.Polls)
	require.Equal(t, []string{"crawl-1"}, followUps.cancelled)
}

func TestGetJob_PendingKeepsFollowUp(t *testing.T) {
	service := jobs.NewService(jobs.NewMemoryTracker(), stubChecker{payload: map[string]any{"status": "scraping"}})
	followUps := &fakeFollowUps{err: errors.New("workflow not found")}
	ts := newTestServer(t, config.Config{}, func(deps *Deps) {
		deps.Jobs = service
		deps.FollowUps = followUps
	})
	token, user := ts.login(t, "ada@example.com")
	require.NoError(t, service.RecordPending(context.Background(), jobs.AsyncJob{ID: "crawl-2", Kind: "crawl", UserID: user.ID}))

	rec := ts.do(t, http.MethodGet, "/api/jobs/crawl-2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, jobs.StatusPending, decodeJSON[jobs.AsyncJob](t, rec).Status)
	require.Empty(t, followUps.cancelled)
}

func TestListTools(t *testing.T) {
	registry, err := tools.NewRegistry(tools.Spec{
		Name:        "getWeather",
		Description: "Get the current weather at a location",
		Schema:      tools.SchemaFor[coordinates](),
		Bind: tools.Typed(func(ctx context.Context, at coordinates) (any, error) {
			return nil, nil
		}),
	})
	require.NoError(t, err)
	ts := newTestServer(t, config.Config{}, func(deps *Deps) { deps.Registry = registry })
	token, _ := ts.login(t, "ada@example.com")

	rec := ts.do(t, http.MethodGet, "/api/tools", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	declarations := decodeJSON[[]tools.Declaration](t, rec)
	require.Len(t, declarations, 1)
	require.Equal(t, "getWeather", declarations[0].Name)
	require.Equal(t, "object", declarations[0].Parameters["type"])
	properties := declarations[0].Parameters["properties"].(map[string]any)
	require.Equal(t, map[string]any{"type": "number", "description": "Latitude"}, properties["latitude"])
}

type coordinates struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude"`
}

func TestSelfTest(t *testing.T) {
	ts := newTestServer(t, config.Config{SerperAPIKey: "k", LLMMode: "local"}, nil)
	rec := ts.do(t, http.MethodGet, "/api/test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anonymous := decodeJSON[map[string]any](t, rec)
	require.Equal(t, "error", anonymous["status"])
	require.Equal(t, "Not authenticated", anonymous["message"])

	token, user := ts.login(t, "ada@example.com")
	seedChat(t, ts.store, "c1", user.ID)
	rec = ts.do(t, http.MethodGet, "/api/test", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON[selfTestResponse](t, rec)
	require.Equal(t, "success", result.Status)
	require.Equal(t, "All systems operational", result.Message)
	require.Equal(t, user.ID, result.User.ID)
	require.Equal(t, 1, *result.ChatCount)
	require.True(t, result.Environment["hasSerperKey"])
	require.True(t, result.Environment["hasLLMKey"])
	require.False(t, result.Environment["hasExaKey"])
}
