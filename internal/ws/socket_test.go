package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/twentyq/internal/api"
	"github.com/kiliankoe/twentyq/internal/game"
)

type emitted struct {
	event string
	args  []any
}

// fakeConn implements the parts of socketio.Conn the handlers touch.
type fakeConn struct {
	socketio.Conn
	id    string
	ctx   any
	rooms map[string]bool
	mu    sync.Mutex
	out   []emitted
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, rooms: map[string]bool{}}
}

func (c *fakeConn) ID() string           { return c.id }
func (c *fakeConn) Context() interface{} { return c.ctx }
func (c *fakeConn) SetContext(v interface{}) {
	c.ctx = v
}
func (c *fakeConn) Join(room string)  { c.rooms[room] = true }
func (c *fakeConn) Leave(room string) { delete(c.rooms, room) }
func (c *fakeConn) Emit(event string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, emitted{event: event, args: v})
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.out {
		if e.event == event {
			n++
		}
	}
	return n
}

type queueModel struct {
	mu      sync.Mutex
	replies []string
}

func (m *queueModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func newTestServer(replies ...string) *Server {
	engine := game.NewEngine(&queueModel{replies: replies}, nil, game.Options{Retries: 0, Timeout: time.Second})
	svc := game.NewService(engine, game.NewManager())
	return New(svc, api.NewTokens("test-secret", time.Hour), 5)
}

func TestCreateAttachesConnection(t *testing.T) {
	srv := newTestServer(`{"title":"Portal"}`)
	c := newFakeConn("c1")

	ack := srv.onCreate(c, createPayload{GameType: "player-guesses"})
	require.NotContains(t, ack, "error")
	id := ack["sessionId"].(string)
	assert.True(t, c.rooms[id])
	assert.Equal(t, 1, srv.watchers(id))
	assert.Equal(t, 5, ack["session"].(game.View).QuestionBudget)

	ack = srv.onCreate(c, createPayload{GameType: "twenty-questions"})
	assert.Equal(t, "unknown_game_type", ack["error"])
	assert.Equal(t, 1, c.count("error"))
}

func TestEventsRequireSession(t *testing.T) {
	srv := newTestServer()
	c := newFakeConn("c1")
	c.SetContext(&ConnCtx{})

	ack := srv.onAsk(c, askPayload{Question: "Is it old?"})
	assert.Equal(t, "unauthorized", ack["error"])

	ack = srv.onResume(c, resumePayload{Token: "garbage"})
	assert.Equal(t, "unauthorized", ack["error"])
}

func TestAIGuessesOverSocket(t *testing.T) {
	srv := newTestServer(`{"type":"question","content":"Is it a platformer?"}`, `{"type":"guess","content":"Celeste"}`)
	host := newFakeConn("host")
	host.SetContext(&ConnCtx{})

	ack := srv.onCreate(host, createPayload{GameType: "ai-guesses"})
	id, token := ack["sessionId"].(string), ack["token"].(string)

	watcher := newFakeConn("watcher")
	watcher.SetContext(&ConnCtx{})
	ack = srv.onResume(watcher, resumePayload{Token: token})
	require.Equal(t, id, ack["sessionId"])
	assert.Equal(t, 2, srv.watchers(id))

	ack = srv.onSecret(host, secretPayload{Title: "Celeste"})
	require.NotContains(t, ack, "error")

	ack = srv.onTurn(host, turnPayload{})
	require.NotContains(t, ack, "error")
	assert.Equal(t, "Is it a platformer?", ack["session"].(game.View).PendingQuestion)

	ack = srv.onTurn(host, turnPayload{Answer: "Yes"})
	require.NotContains(t, ack, "error")
	assert.Equal(t, game.StatusWon, ack["session"].(game.View).Status)

	// resume emits once, then secret plus two turns broadcast
	assert.Equal(t, 4, watcher.count("game:state"))

	ack = srv.onGuess(host, guessPayload{Guess: "Celeste"})
	assert.Equal(t, "wrong_game_type", ack["error"])
}

func TestRoundFailureOverSocket(t *testing.T) {
	srv := newTestServer(`{"title":"Portal"}`, `{"type":"answer"}`)
	c := newFakeConn("c1")
	c.SetContext(&ConnCtx{})
	srv.onCreate(c, createPayload{GameType: "player-guesses"})

	ack := srv.onAsk(c, askPayload{Question: "Is it old?"})
	assert.Equal(t, "round_failed", ack["error"])
	assert.Equal(t, game.StatusLost, ack["session"].(game.View).Status)
}
