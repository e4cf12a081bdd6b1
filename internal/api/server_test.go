package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/twentyq/internal/game"
	"github.com/kiliankoe/twentyq/internal/history"
)

type queueModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *queueModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

type testServer struct {
	router *gin.Engine
	model  *queueModel
	store  *history.Store
}

func newTestServer(t *testing.T, replies ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	model := &queueModel{replies: replies}
	engine := game.NewEngine(model, nil, game.Options{Retries: 1, Timeout: time.Second})
	manager := game.NewManager(func(s game.Session) {
		require.NoError(t, store.Record(context.Background(), s))
	})
	srv := New(game.NewService(engine, manager), NewTokens("test-secret", time.Hour), nil, store, 3)

	r := gin.New()
	srv.Register(r)
	return &testServer{router: r, model: model, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (ts *testServer) create(t *testing.T, gameType string) (string, string, map[string]any) {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/api/games", "", gin.H{"gameType": gameType})
	require.Equal(t, http.StatusCreated, code, body)
	return body["sessionId"].(string), body["token"].(string), body["session"].(map[string]any)
}

func TestCreateRejectsUnknownGameType(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/games", "", gin.H{"gameType": "Player-Guesses"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_game_type", body["error"])

	code, body = ts.do(t, http.MethodPost, "/api/games", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	assert.Zero(t, ts.model.calls)
}

func TestPlayerGuessesOverHTTP(t *testing.T) {
	ts := newTestServer(t,
		`{"title":"Portal"}`,
		`{"type":"answer","questionCount":0,"answer":"Yes"}`,
		`{"type":"guessResult","questionCount":1,"correct":true,"response":"You got it!","confidence":9}`,
	)
	id, token, sess := ts.create(t, "player-guesses")
	assert.Equal(t, "active", sess["status"])
	assert.NotContains(t, sess, "secretTitle")

	code, body := ts.do(t, http.MethodPost, "/api/games/"+id+"/questions", token, gin.H{"question": "Is it a puzzle game?"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "answer", body["kind"])
	assert.Equal(t, "Yes", body["reply"].(map[string]any)["answer"])
	assert.EqualValues(t, 1, body["session"].(map[string]any)["questionCount"])

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/questions", token, gin.H{"question": "Is it Portal?"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "guessResult", body["kind"])
	view := body["session"].(map[string]any)
	assert.Equal(t, "won", view["status"])
	assert.Equal(t, "Portal", view["secretTitle"])

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/guesses", token, gin.H{"guess": "Portal"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "session_over", body["error"])

	games, err := ts.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, id, games[0].ID)

	code, body = ts.do(t, http.MethodGet, "/api/history", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["games"], 1)
}

func TestDirectGuessAndBudget(t *testing.T) {
	ts := newTestServer(t, `{"title":"Portal"}`)
	id, token, _ := ts.create(t, "player-guesses")

	code, body := ts.do(t, http.MethodPost, "/api/games/"+id+"/guesses", token, gin.H{"guess": "Portel"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.5, body["score"])

	ts.do(t, http.MethodPost, "/api/games/"+id+"/guesses", token, gin.H{"guess": "Doom"})
	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/guesses", token, gin.H{"guess": "Halo"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "lost", body["session"].(map[string]any)["status"])
}

func TestRoundFailureReturnsBadGateway(t *testing.T) {
	ts := newTestServer(t, `{"title":"Portal"}`, `{"type":"answer"}`, `not json`)
	id, token, _ := ts.create(t, "player-guesses")

	code, body := ts.do(t, http.MethodPost, "/api/games/"+id+"/questions", token, gin.H{"question": "Is it old?"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "round_failed", body["error"])
	view := body["session"].(map[string]any)
	assert.Equal(t, "lost", view["status"])
	assert.NotEmpty(t, view["failure"])
}

func TestAIGuessesOverHTTP(t *testing.T) {
	ts := newTestServer(t,
		`{"type":"question","content":"Is it a platformer?"}`,
		`{"type":"guess","content":"Celeste"}`,
	)
	id, token, sess := ts.create(t, "ai-guesses")
	assert.Equal(t, "awaiting-secret", sess["status"])

	code, body := ts.do(t, http.MethodPost, "/api/games/"+id+"/turns", token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", body["error"])

	code, _ = ts.do(t, http.MethodPost, "/api/games/"+id+"/secret", token, gin.H{"title": "Celeste"})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/turns", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "question", body["kind"])
	assert.Equal(t, "Is it a platformer?", body["session"].(map[string]any)["pendingQuestion"])

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/turns", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "empty_input", body["error"])

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/turns", token, gin.H{"answer": "Yes"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "won", body["session"].(map[string]any)["status"])

	code, body = ts.do(t, http.MethodPost, "/api/games/"+id+"/questions", token, gin.H{"question": "Is it old?"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "session_over", body["error"])
}

func TestTurnAcceptsChunkedEmptyBody(t *testing.T) {
	ts := newTestServer(t, `{"type":"question","content":"Is it a platformer?"}`)
	id, token, _ := ts.create(t, "ai-guesses")
	code, _ := ts.do(t, http.MethodPost, "/api/games/"+id+"/secret", token, gin.H{"title": "Celeste"})
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodPost, "/api/games/"+id+"/turns", io.NopCloser(strings.NewReader("")))
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "question", body["kind"])
}

func TestSessionRoutesRequireMatchingToken(t *testing.T) {
	ts := newTestServer(t)
	id, _, _ := ts.create(t, "ai-guesses")
	other, otherToken, _ := ts.create(t, "ai-guesses")

	code, _ := ts.do(t, http.MethodGet, "/api/games/"+id, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodGet, "/api/games/"+id, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodGet, "/api/games/"+id, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := ts.do(t, http.MethodGet, "/api/games/"+other, otherToken, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, other, body["session"].(map[string]any)["sessionId"])

	forged, err := NewTokens("test-secret", time.Hour).Issue("missing")
	require.NoError(t, err)
	code, body = ts.do(t, http.MethodGet, "/api/games/missing", forged, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, err := tokens.Issue("abc")
	require.NoError(t, err)

	sid, err := tokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc", sid)

	_, err = NewTokens("other", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRateLimiterFailsOpenWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter("", "", 0, 1, time.Minute)
	assert.False(t, rl.Enabled())

	r := gin.New()
	r.GET("/test", rl.Middleware("test"), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// Runs only if REDIS_ADDR is set.
func TestRedisRateLimitIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			db = n
		}
	}
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(addr, os.Getenv("REDIS_PASSWORD"), db, 2, 2*time.Second)
	defer rl.Close()
	require.True(t, rl.Enabled())

	endpoint := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	r := gin.New()
	r.GET("/test", rl.Middleware(endpoint), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
