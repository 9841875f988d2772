package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"modalhub/internal/logging"
	"modalhub/internal/metrics"
	"modalhub/internal/models"
	"modalhub/internal/service/assistant"
	"modalhub/internal/service/todo"
	"modalhub/internal/worker"
)

type testServer struct {
	router  *gin.Engine
	todos   *todo.MemoryStore
	logger  *logging.TestLogger
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts assistant.Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewTestLogger()
	m := metrics.New()
	if opts.Recorder == nil {
		opts.Recorder = m
	}
	todos := todo.NewMemoryStore("Learn Go")
	asst := assistant.NewService(assistant.NewMemoryStore(assistant.Retention{}), opts)
	handler := NewHandler(todos, asst, m, logger.Logger)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, todos: todos, logger: logger, metrics: m}
}

func TestTodoCRUDFlow(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/todos", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var seeded []models.Todo
	decodeJSON(t, listResp.Body.Bytes(), &seeded)
	require.Len(t, seeded, 1)
	assert.Equal(t, models.Todo{ID: 1, Title: "Learn Go", Completed: false}, seeded[0])

	createResp := doJSONRequest(t, srv.router, http.MethodPost, "/todos", map[string]string{"title": "Buy milk"}, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created models.Todo
	decodeJSON(t, createResp.Body.Bytes(), &created)
	assert.Equal(t, models.Todo{ID: 2, Title: "Buy milk"}, created)

	getResp := doJSONRequest(t, srv.router, http.MethodGet, "/todos/2", nil, nil)
	assertStatus(t, getResp, http.StatusOK)

	updResp := doJSONRequest(t, srv.router, http.MethodPut, "/todos/2", map[string]bool{"completed": true}, nil)
	assertStatus(t, updResp, http.StatusOK)
	var updated models.Todo
	decodeJSON(t, updResp.Body.Bytes(), &updated)
	assert.Equal(t, "Buy milk", updated.Title)
	assert.True(t, updated.Completed)

	delResp := doJSONRequest(t, srv.router, http.MethodDelete, "/todos/2", nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	assert.Empty(t, delResp.Body.String())

	missing := doJSONRequest(t, srv.router, http.MethodGet, "/todos/2", nil, nil)
	assertStatus(t, missing, http.StatusNotFound)
	assert.JSONEq(t, `{"error":"Todo not found"}`, missing.Body.String())

	// deleting again is still a success and ids are never reused
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/todos/2", nil, nil), http.StatusNoContent)
	next := doJSONRequest(t, srv.router, http.MethodPost, "/todos", map[string]string{"title": "Walk dog"}, nil)
	assertStatus(t, next, http.StatusCreated)
	decodeJSON(t, next.Body.Bytes(), &created)
	assert.Equal(t, int64(3), created.ID)
}

func TestTodoValidation(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"create without title", http.MethodPost, "/todos", map[string]any{}, http.StatusBadRequest},
		{"create blank title", http.MethodPost, "/todos", map[string]string{"title": "  "}, http.StatusBadRequest},
		{"create malformed body", http.MethodPost, "/todos", "not-an-object", http.StatusBadRequest},
		{"get non-integer id", http.MethodGet, "/todos/abc", nil, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/todos/99", map[string]string{"title": "x"}, http.StatusNotFound},
		{"update empty title", http.MethodPut, "/todos/1", map[string]string{"title": ""}, http.StatusOK},
		{"update non-integer id", http.MethodPut, "/todos/x", map[string]string{"title": "x"}, http.StatusBadRequest},
		{"delete non-integer id", http.MethodDelete, "/todos/x", nil, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/todos/42", nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSONRequest(t, srv.router, tt.method, tt.path, tt.body, nil)
			assertStatus(t, resp, tt.want)
		})
	}
}

func TestTodoUpdateKeepsOmittedFields(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	resp := doJSONRequest(t, srv.router, http.MethodPut, "/todos/1", map[string]string{"title": "Learn Go well"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var item models.Todo
	decodeJSON(t, resp.Body.Bytes(), &item)
	assert.Equal(t, models.Todo{ID: 1, Title: "Learn Go well"}, item)
}

type chatBody struct {
	Reply            string         `json:"reply"`
	SessionID        string         `json:"session_id"`
	GeneratedContent map[string]any `json:"generated_content"`
	GeneratorUsed    string         `json:"generator_used"`
}

func TestChatFlow(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	first := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat",
		map[string]any{"message": "Write a function to sort a list"}, nil)
	assertStatus(t, first, http.StatusOK)
	var body chatBody
	decodeJSON(t, first.Body.Bytes(), &body)
	assert.Equal(t, "code", body.GeneratorUsed)
	assert.Equal(t, "python", body.GeneratedContent["language"])
	require.NotEmpty(t, body.SessionID)

	second := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat",
		map[string]any{"message": "how are you", "session_id": body.SessionID}, nil)
	assertStatus(t, second, http.StatusOK)
	assert.Contains(t, second.Body.String(), `"generated_content":null`)
	var convo chatBody
	decodeJSON(t, second.Body.Bytes(), &convo)
	assert.Equal(t, body.SessionID, convo.SessionID)
	assert.Equal(t, "conversation", convo.GeneratorUsed)
	assert.Equal(t, "I understand! How else can I assist you today?", convo.Reply)

	histResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/v1/assistant/sessions/"+body.SessionID, nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	var session models.Session
	decodeJSON(t, histResp.Body.Bytes(), &session)
	assert.Equal(t, body.SessionID, session.ID)
	require.Len(t, session.History, 4)
	assert.Equal(t, "code", session.History[1].Generator)
	assert.Equal(t, "conversation", session.History[3].Generator)

	delResp := doJSONRequest(t, srv.router, http.MethodDelete, "/api/v1/assistant/sessions/"+body.SessionID, nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/v1/assistant/sessions/"+body.SessionID, nil, nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/v1/assistant/sessions/"+body.SessionID, nil, nil), http.StatusNotFound)
}

func TestChatPayloads(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})
	tests := []struct {
		message string
		gen     string
		key     string
		value   string
	}{
		{"draw me a logo", "image", "image_url", "https://example.com/generated_image.png"},
		{"compose a song", "audio", "audio_url", "https://example.com/generated_audio.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.gen, func(t *testing.T) {
			resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": tt.message}, nil)
			assertStatus(t, resp, http.StatusOK)
			var body chatBody
			decodeJSON(t, resp.Body.Bytes(), &body)
			assert.Equal(t, tt.gen, body.GeneratorUsed)
			assert.Equal(t, tt.value, body.GeneratedContent[tt.key])
		})
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{}, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", []int{1}, nil), http.StatusBadRequest)

	// an unknown session id is replaced with a fresh one
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat",
		map[string]any{"message": "hello", "session_id": "nope"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body chatBody
	decodeJSON(t, resp.Body.Bytes(), &body)
	assert.NotEqual(t, "nope", body.SessionID)

	// explicit null behaves like an absent session id
	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat",
		map[string]any{"message": "hello", "session_id": nil}, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestChatGenerationFailure(t *testing.T) {
	srv := newTestServer(t, assistant.Options{
		Generators: map[assistant.Intent]assistant.Generator{
			assistant.IntentAudio: assistant.GeneratorFunc(func(context.Context, assistant.Request) (*assistant.Result, error) {
				return nil, errors.New("synth offline")
			}),
		},
	})

	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": "play a melody"}, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	assert.JSONEq(t, `{"error":"Generation failed: synth offline"}`, resp.Body.String())
	srv.logger.AssertLogged(t, zapcore.ErrorLevel, "request served")
}

func TestChatEmptyMessageGetsConversationReply(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})
	for _, msg := range []string{"", "   "} {
		resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": msg}, nil)
		assertStatus(t, resp, http.StatusOK)
		var body chatBody
		decodeJSON(t, resp.Body.Bytes(), &body)
		assert.Equal(t, "conversation", body.GeneratorUsed)
		assert.Equal(t, "I understand! How else can I assist you today?", body.Reply)
	}
}

func TestChatSessionDeletedMidGeneration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var svc *assistant.Service
	svc = assistant.NewService(assistant.NewMemoryStore(assistant.Retention{}), assistant.Options{
		Generators: map[assistant.Intent]assistant.Generator{
			assistant.IntentConversation: assistant.GeneratorFunc(func(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
				if err := svc.DeleteSession(ctx, logging.SessionIDFromContext(ctx)); err != nil {
					return nil, err
				}
				return assistant.ConversationGenerator{}.Generate(ctx, req)
			}),
		},
	})
	router := gin.New()
	NewHandler(todo.NewMemoryStore(), svc, nil, nil).RegisterRoutes(router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": "hello"}, nil)
	assertStatus(t, resp, http.StatusNotFound)
	assert.JSONEq(t, `{"error":"session not found"}`, resp.Body.String())
}

type refusingDispatcher struct{ err error }

func (d refusingDispatcher) Submit(context.Context, string, func(context.Context)) error { return d.err }
func (d refusingDispatcher) Cancel(string)                                                {}

func TestChatDispatcherErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
		{worker.ErrDispatcherStopped, http.StatusServiceUnavailable},
		{worker.ErrJobCanceled, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := newTestServer(t, assistant.Options{Dispatcher: refusingDispatcher{err: tt.err}})
			resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": "hi"}, nil)
			assertStatus(t, resp, tt.want)
		})
	}
}

func TestChatWithRealDispatcher(t *testing.T) {
	d := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 4, QueueSize: 64}, nil)
	defer d.Stop()
	srv := newTestServer(t, assistant.Options{Dispatcher: d})

	first := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": "hello"}, nil)
	assertStatus(t, first, http.StatusOK)
	var body chatBody
	decodeJSON(t, first.Body.Bytes(), &body)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat",
				map[string]any{"message": fmt.Sprintf("message %d", i), "session_id": body.SessionID}, nil)
			assert.Equal(t, http.StatusOK, resp.Code)
		}(i)
	}
	wg.Wait()

	hist := doJSONRequest(t, srv.router, http.MethodGet, "/api/v1/assistant/sessions/"+body.SessionID, nil, nil)
	assertStatus(t, hist, http.StatusOK)
	var session models.Session
	decodeJSON(t, hist.Body.Bytes(), &session)
	assert.Len(t, session.History, 22)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})

	resp := doJSONRequest(t, srv.router, http.MethodGet, "/health", nil, map[string]string{RequestIDHeader: "req-123"})
	assertStatus(t, resp, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	assert.Equal(t, "req-123", resp.Header().Get(RequestIDHeader))
	srv.logger.AssertField(t, "request served", "request.id", "req-123")

	generated := doJSONRequest(t, srv.router, http.MethodGet, "/health", nil, nil)
	assert.Len(t, generated.Header().Get(RequestIDHeader), 36)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, "/api/v1/assistant/chat", map[string]any{"message": "draw"}, nil), http.StatusOK)

	metricsResp := doJSONRequest(t, srv.router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, metricsResp, http.StatusOK)
	text := metricsResp.Body.String()
	assert.True(t, strings.Contains(text, `modalhub_http_requests_total{method="GET",route="/health",status="200"} 2`), text)
	assert.Contains(t, text, `modalhub_assistant_intents_total{intent="image"} 1`)
	assert.Contains(t, text, `modalhub_assistant_sessions_created_total 1`)
}

func TestRecoveryReturnsJSON(t *testing.T) {
	srv := newTestServer(t, assistant.Options{})
	srv.router.GET("/boom", func(*gin.Context) { panic("kaboom") })

	resp := doJSONRequest(t, srv.router, http.MethodGet, "/boom", nil, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	assert.JSONEq(t, `{"error":"internal server error"}`, resp.Body.String())
	srv.logger.AssertLogged(t, zapcore.ErrorLevel, "panic recovered")
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
