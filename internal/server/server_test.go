package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mce-assistant-backend/internal/auth"
	"mce-assistant-backend/internal/chat"
	"mce-assistant-backend/internal/config"
	"mce-assistant-backend/internal/intent"
	"mce-assistant-backend/internal/mce"
	"mce-assistant-backend/internal/store"
)

const okReply = "Here is some marketing advice."

const intentReply = "I'll create this email for you!\n" +
	"Name: Welcome Series\n" +
	"Subject: Hello there\n" +
	"Content: A warm welcome with a coupon."

type fakeRelay struct {
	reply         string
	model         string
	err           error
	frags         []chat.Fragment
	completeCalls int
	streamCalls   int
}

func (f *fakeRelay) Complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, string, error) {
	f.completeCalls++
	if f.err != nil {
		return "", "", f.err
	}
	return f.reply, f.model, nil
}

func (f *fakeRelay) Stream(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, <-chan chat.Fragment, error) {
	f.streamCalls++
	if f.err != nil {
		return "", nil, f.err
	}
	ch := make(chan chat.Fragment, len(f.frags))
	for _, fr := range f.frags {
		ch <- fr
	}
	close(ch)
	return f.model, ch, nil
}

type fakeBuilder struct {
	data    map[string]any
	err     error
	calls   []intent.EmailIntent
	ctxErrs []error
}

func (f *fakeBuilder) BuildEmail(ctx context.Context, in intent.EmailIntent) (map[string]any, error) {
	f.calls = append(f.calls, in)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.data, f.err
}

func newTestServer(cfg config.Config, relay modelRelay, builder emailBuilder) *Server {
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}
	s := &Server{
		router:   newRouter(cfg),
		cfg:      cfg,
		relay:    relay,
		detector: intent.NewDetector(nil),
		mce:      builder,
		gate:     auth.NewGate(cfg),
		store:    store.NewMemoryStore(0),
	}
	s.routes()
	return s
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestChat_MissingMessages(t *testing.T) {
	relay := &fakeRelay{}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, &fakeBuilder{})

	for _, body := range []string{`{}`, `{"messages": null}`, `{"messages": "nope"}`, `{"messages": []}`, `{"messages": 7}`} {
		rr := postChat(t, s, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
		assert.Equal(t, "Messages array is required", decodeJSON(t, rr)["error"], "body %s", body)
	}
	assert.Zero(t, relay.completeCalls)
}

func TestChat_InvalidJSON(t *testing.T) {
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, &fakeRelay{}, &fakeBuilder{})
	rr := postChat(t, s, `{"messages": [`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChat_MissingAPIKey(t *testing.T) {
	relay := &fakeRelay{reply: okReply, model: "gpt-4o-mini"}
	s := newTestServer(config.Config{}, relay, &fakeBuilder{})

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotEmpty(t, decodeJSON(t, rr)["error"])
	assert.Zero(t, relay.completeCalls, "no upstream call may be attempted")
}

func TestChat_PlainReply(t *testing.T) {
	relay := &fakeRelay{reply: okReply, model: "gpt-4o-mini"}
	builder := &fakeBuilder{}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"any tips?"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	out := decodeJSON(t, rr)
	assert.Equal(t, okReply, out["content"])
	assert.Equal(t, "gpt-4o-mini", out["model"])
	assert.Nil(t, out["mceResult"])
	assert.Empty(t, builder.calls, "no intent means no downstream call")
}

func TestChat_IntentTriggersCreation(t *testing.T) {
	relay := &fakeRelay{reply: intentReply, model: "gpt-4o"}
	builder := &fakeBuilder{data: map[string]any{"id": "asset-1", "status": "created"}}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"yes, create it"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, builder.calls, 1)
	assert.Equal(t, "Welcome Series", builder.calls[0].Name)
	assert.Equal(t, "Hello there", builder.calls[0].Subject)
	assert.Equal(t, "A warm welcome with a coupon.", builder.calls[0].BodyDescription)

	out := decodeJSON(t, rr)
	res, ok := out["mceResult"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "asset-1", res["id"])
}

func TestChat_DownstreamFailureIsolation(t *testing.T) {
	relay := &fakeRelay{reply: intentReply, model: "gpt-4o-mini"}
	builder := &fakeBuilder{err: &mce.HTTPError{Status: http.StatusServiceUnavailable, Body: "down for maintenance"}}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"create it"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, "MCE failure must not fail the chat turn")

	out := decodeJSON(t, rr)
	assert.Equal(t, intentReply, out["content"], "full reply text still returned")
	res, ok := out["mceResult"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "MCE server error: 503", res["error"])
	assert.Equal(t, "down for maintenance", res["details"])
}

func TestChat_DownstreamUnconfigured(t *testing.T) {
	relay := &fakeRelay{reply: intentReply, model: "gpt-4o-mini"}
	builder := &fakeBuilder{err: mce.ErrNotConfigured}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"create it"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeJSON(t, rr)["mceResult"].(map[string]any)
	assert.Equal(t, "MCE configuration missing", res["error"])
	assert.Equal(t, "MCE_API_KEY not configured", res["details"])
}

func TestChat_CreationSurvivesClientCancel(t *testing.T) {
	relay := &fakeRelay{reply: intentReply, model: "gpt-4o-mini"}
	builder := &fakeBuilder{data: map[string]any{"status": "created"}}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	// Client gone before the creation call is issued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"create it"}]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	require.Len(t, builder.calls, 1)
	assert.NoError(t, builder.ctxErrs[0], "an issued creation call runs on a live context")
}

func TestChat_UpstreamErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited maps to 429", &chat.UpstreamError{Kind: chat.UpstreamRateLimited}, http.StatusTooManyRequests},
		{"auth failure maps to 500", &chat.UpstreamError{Kind: chat.UpstreamAuth}, http.StatusInternalServerError},
		{"generic failure maps to 500", &chat.UpstreamError{Kind: chat.UpstreamGeneric}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(config.Config{OpenAIAPIKey: "k"}, &fakeRelay{err: tt.err}, &fakeBuilder{})
			rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}]}`)
			assert.Equal(t, tt.want, rr.Code)
			assert.NotEmpty(t, decodeJSON(t, rr)["error"])
		})
	}
}

// sseEvents parses "data: ..." frames from an event-stream body.
func sseEvents(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "data: ") {
			out = append(out, strings.TrimPrefix(block, "data: "))
		}
	}
	return out
}

func TestChatStream_FragmentsAndSentinel(t *testing.T) {
	relay := &fakeRelay{
		model: "gpt-4o-mini",
		frags: []chat.Fragment{{Text: "Hel"}, {Text: "lo "}, {Text: "there."}},
	}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, &fakeBuilder{})

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	events := sseEvents(rr.Body.String())
	require.NotEmpty(t, events)
	assert.JSONEq(t, `{"model":"gpt-4o-mini"}`, events[0])
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var text strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		var frame map[string]string
		require.NoError(t, json.Unmarshal([]byte(ev), &frame))
		text.WriteString(frame["text"])
	}
	assert.Equal(t, "Hello there.", text.String(), "concatenated fragments equal the full reply")
}

func TestChatStream_IntentEventBeforeDone(t *testing.T) {
	relay := &fakeRelay{
		model: "gpt-4o-mini",
		frags: []chat.Fragment{
			{Text: "I'll create this email for you!\n"},
			{Text: "Name: Welcome Series\n"},
			{Text: "Subject: Hello there"},
		},
	}
	builder := &fakeBuilder{data: map[string]any{"id": "asset-2"}}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"go"}],"stream":true}`)
	require.Equal(t, http.StatusOK, rr.Code)

	events := sseEvents(rr.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2]), &frame))
	res, ok := frame["mceResult"].(map[string]any)
	require.True(t, ok, "the event before [DONE] carries the creation result")
	assert.Equal(t, "asset-2", res["id"])
	require.Len(t, builder.calls, 1, "extraction runs once, on the concatenated buffer")
}

func TestChatStream_TransportErrorTerminates(t *testing.T) {
	relay := &fakeRelay{
		model: "gpt-4o-mini",
		frags: []chat.Fragment{
			{Text: "partial "},
			{Err: &chat.UpstreamError{Kind: chat.UpstreamGeneric}},
		},
	}
	builder := &fakeBuilder{}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, builder)

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	events := sseEvents(rr.Body.String())

	require.GreaterOrEqual(t, len(events), 3)
	assert.JSONEq(t, `{"text":"partial "}`, events[1], "delivered fragments stay valid")
	assert.JSONEq(t, `{"error":"Model stream failed"}`, events[len(events)-2])
	assert.Equal(t, "[DONE]", events[len(events)-1])
	assert.Empty(t, builder.calls, "no creation on a truncated reply")
}

func TestChatStream_InitErrorIsHTTPError(t *testing.T) {
	relay := &fakeRelay{err: &chat.UpstreamError{Kind: chat.UpstreamRateLimited}}
	s := newTestServer(config.Config{OpenAIAPIKey: "k"}, relay, &fakeBuilder{})

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRequireAuth_SharedKey(t *testing.T) {
	cfg := config.Config{OpenAIAPIKey: "k", APISharedKey: "sekret", SessionSecret: "s"}
	relay := &fakeRelay{reply: okReply, model: "gpt-4o-mini"}
	s := newTestServer(cfg, relay, &fakeBuilder{})

	rr := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, relay.completeCalls)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-API-Key", "sekret")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAuth_SessionCookie(t *testing.T) {
	cfg := config.Config{
		OpenAIAPIKey:  "k",
		SessionSecret: "s",
		AdminEmail:    "admin@test.com",
		AdminPassword: "hunter2",
	}
	relay := &fakeRelay{reply: okReply, model: "gpt-4o-mini"}
	s := newTestServer(cfg, relay, &fakeBuilder{})

	// Login with the credentials fallback
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"admin@test.com","password":"hunter2"}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "login must set the session cookie")

	// Authenticated chat request
	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Tampered cookie is rejected
	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie.Value + "x"})
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	cfg := config.Config{SessionSecret: "s", AdminEmail: "admin@test.com", AdminPassword: "hunter2"}
	s := newTestServer(cfg, &fakeRelay{}, &fakeBuilder{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"admin@test.com","password":"wrong"}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthStatus_Anonymous(t *testing.T) {
	s := newTestServer(config.Config{SessionSecret: "s"}, &fakeRelay{}, &fakeBuilder{})
	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON(t, rr)["authenticated"])
}

func TestChat_CORSPreflight(t *testing.T) {
	s := newTestServer(config.Config{OpenAIAPIKey: "k", AllowedOrigin: "*"}, &fakeRelay{}, &fakeBuilder{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(config.Config{}, &fakeRelay{}, &fakeBuilder{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeJSON(t, rr)["status"])
}
