package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/bookwright/internal/assemble"
	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/provider"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/internal/story"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newController runs sessions on mocks; overrides replace a role's provider.
func newController(t *testing.T, overrides ...map[string]provider.Provider) *pipeline.Controller {
	t.Helper()
	bindings := make(map[string]generation.Binding)
	for _, role := range pipeline.Roles {
		bindings[role] = generation.Binding{Provider: provider.NewMockProvider("mock-" + role)}
	}
	for _, o := range overrides {
		for role, p := range o {
			bindings[role] = generation.Binding{Provider: p}
		}
	}
	svc, err := generation.NewService(bindings)
	require.NoError(t, err)
	ctrl, err := pipeline.New(pipeline.DefaultConfig(), svc, store.NewMemoryStore())
	require.NoError(t, err)
	return ctrl
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestSessionLifecycle(t *testing.T) {
	srv := NewServer(Config{}, newController(t))
	h := srv.Handler()

	w, env := do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "book-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, w.Header().Get(requestIDHeader))

	var sess Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, "book-1", sess.ID)
	assert.Equal(t, story.StatusSuspended, sess.Status)
	assert.Equal(t, string(pipeline.StepAwaitHumanInput), sess.Step)
	assert.NotEmpty(t, sess.Question)

	w, env = do(t, h, http.MethodGet, "/v1/sessions/book-1/documents", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	w, env = do(t, h, http.MethodGet, "/v1/sessions/book-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, story.StatusSuspended, sess.Status)
	assert.NotEmpty(t, sess.Question)

	w, env = do(t, h, http.MethodPost, "/v1/sessions/book-1/input", map[string]string{"input": "a short mystery"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, story.StatusCompleted, sess.Status)
	assert.Empty(t, sess.Question)

	w, env = do(t, h, http.MethodGet, "/v1/sessions/book-1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []Document
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "original", docs[0].Edition)
	assert.Contains(t, docs[0].Body, "## Chapter 1:")

	w, env = do(t, h, http.MethodPost, "/v1/sessions/book-1/input", map[string]string{"input": "more"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)
}

func TestStartSessionErrors(t *testing.T) {
	h := NewServer(Config{}, newController(t)).Handler()

	w, _ := do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "taken"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "taken"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "session already exists", env.Error.Message)

	w, env = do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "../etc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestStartWithoutBodyGeneratesID(t *testing.T) {
	h := NewServer(Config{}, newController(t)).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var sess Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.NotEmpty(t, sess.ID)
}

func TestResumeValidation(t *testing.T) {
	h := NewServer(Config{}, newController(t)).Handler()

	w, env := do(t, h, http.MethodPost, "/v1/sessions/missing/input", map[string]string{"input": "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "s1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = do(t, h, http.MethodPost, "/v1/sessions/s1/input", map[string]string{"input": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	w, _ = do(t, h, http.MethodPost, "/v1/sessions/s1/input", map[string]string{"input": " \t\x00 "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodGet, "/v1/sessions/bad.id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthentication(t *testing.T) {
	h := NewServer(Config{APIKeys: []string{"secret-key"}}, newController(t)).Handler()

	w, env := do(t, h, http.MethodGet, "/v1/sessions/anything", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w, _ = do(t, h, http.MethodGet, "/v1/sessions/anything", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, h, http.MethodGet, "/v1/sessions/anything", nil, "Authorization", "Bearer secret-key")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewServer(Config{RateLimit: 0.001, Burst: 1}, newController(t)).Handler()

	w, _ := do(t, h, http.MethodGet, "/v1/sessions/anything", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := do(t, h, http.MethodGet, "/v1/sessions/anything", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT", env.Error.Code)
}

type failingSessions struct {
	Sessions
}

func (failingSessions) Start(_ context.Context, opts pipeline.StartOptions) (*pipeline.Outcome, error) {
	return &pipeline.Outcome{
		SessionID: opts.ID,
		Status:    story.StatusFailed,
		Step:      pipeline.StepOutlineIdea,
	}, errors.New("provider openai: upstream error with key sk-abcdefghijklmnop")
}

func (failingSessions) Documents(context.Context, string) ([]assemble.Document, error) {
	return nil, errors.New("disk on fire")
}

func TestFailedRunReportsSession(t *testing.T) {
	h := NewServer(Config{}, failingSessions{}).Handler()

	w, env := do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "doomed"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.NotContains(t, w.Body.String(), "sk-abcdefghijklmnop")

	var sess Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, story.StatusFailed, sess.Status)

	w, env = do(t, h, http.MethodGet, "/v1/sessions/doomed/documents", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	ctx, hangUp := context.WithCancel(context.Background())
	defer hangUp()

	// The client goes away while the first chapter is being written.
	fallback := provider.NewMockProvider("mock-writer")
	writer := provider.NewMockProvider("mock-writer")
	writer.StructuredHandler = func(req provider.StructuredRequest) (*provider.StructuredResponse, error) {
		hangUp()
		return fallback.CreateStructured(context.Background(), req)
	}
	h := NewServer(Config{}, newController(t, map[string]provider.Provider{pipeline.RoleWriter: writer})).Handler()

	w, _ := do(t, h, http.MethodPost, "/v1/sessions", map[string]string{"id": "slow-book"})
	require.Equal(t, http.StatusCreated, w.Code)

	body, err := json.Marshal(map[string]string{"input": "a sea story"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/slow-book/input", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Error(t, ctx.Err(), "request context should have been cancelled mid-run")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w, env := do(t, h, http.MethodGet, "/v1/sessions/slow-book", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, story.StatusCompleted, sess.Status)
	assert.Empty(t, sess.Error)
}
