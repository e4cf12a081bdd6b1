package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/api"
	"github.com/kiliankoe/twentyq/internal/game"
	"github.com/kiliankoe/twentyq/internal/schema"
)

type ConnCtx struct {
	SessionID string
	Token     string
}

type Server struct {
	Games   *game.Service
	tokens  *api.Tokens
	budget  int
	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(games *game.Service, tokens *api.Tokens, defaultBudget int) *Server {
	if defaultBudget <= 0 {
		defaultBudget = game.DefaultQuestionBudget
	}
	return &Server{Games: games, tokens: tokens, budget: defaultBudget, members: make(map[string]map[string]socketio.Conn)}
}

// Mount attaches Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:create", srv.onCreate)
	io.OnEvent("/", "game:resume", srv.onResume)
	io.OnEvent("/", "game:secret", srv.onSecret)
	io.OnEvent("/", "game:ask", srv.onAsk)
	io.OnEvent("/", "game:guess", srv.onGuess)
	io.OnEvent("/", "game:turn", srv.onTurn)

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.SessionID != "" {
			srv.removeMember(ctx.SessionID, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	// Mount to router
	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

type createPayload struct {
	GameType       string `json:"gameType"`
	QuestionBudget int    `json:"questionBudget"`
}

type resumePayload struct {
	Token string `json:"token"`
}

type secretPayload struct {
	Title string `json:"title"`
}

type askPayload struct {
	Question string `json:"question"`
}

type guessPayload struct {
	Guess string `json:"guess"`
}

type turnPayload struct {
	Answer string `json:"answer"`
}

func (srv *Server) onCreate(s socketio.Conn, payload createPayload) map[string]any {
	gt, err := game.ParseGameType(payload.GameType)
	if err != nil {
		return srv.err(s, err, nil)
	}
	budget := payload.QuestionBudget
	if budget == 0 {
		budget = srv.budget
	}
	sess, err := srv.Games.Create(context.Background(), gt, budget)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	token, err := srv.tokens.Issue(sess.ID)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	srv.attach(s, sess.ID, token)
	log.Info().Str("sid", s.ID()).Str("session", sess.ID).Msg("game:create")
	return map[string]any{"sessionId": sess.ID, "token": token, "session": sess.View()}
}

// onResume handles reconnects; any holder of the token may also watch.
func (srv *Server) onResume(s socketio.Conn, payload resumePayload) map[string]any {
	sid, err := srv.tokens.Parse(payload.Token)
	if err != nil {
		return srv.fail(s, "unauthorized", "Invalid session token")
	}
	sess, err := srv.Games.Get(sid)
	if err != nil {
		return srv.err(s, err, nil)
	}
	srv.attach(s, sid, payload.Token)
	log.Info().Str("sid", s.ID()).Str("session", sid).Msg("game:resume")
	s.Emit("game:state", sess.View())
	return map[string]any{"sessionId": sid, "session": sess.View()}
}

func (srv *Server) onSecret(s socketio.Conn, payload secretPayload) map[string]any {
	ctx, ok := srv.session(s)
	if !ok {
		return srv.fail(s, "unauthorized", "No session attached")
	}
	sess, err := srv.Games.SetSecret(ctx.SessionID, payload.Title)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	srv.emitStateTo(sess)
	return map[string]any{"session": sess.View()}
}

func (srv *Server) onAsk(s socketio.Conn, payload askPayload) map[string]any {
	ctx, ok := srv.session(s)
	if !ok {
		return srv.fail(s, "unauthorized", "No session attached")
	}
	sess, reply, err := srv.Games.Ask(context.Background(), ctx.SessionID, payload.Question)
	srv.emitStateTo(sess)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	log.Info().Str("session", sess.ID).Str("kind", string(reply.Kind())).Msg("game:ask")
	return roundAck(sess, reply)
}

func (srv *Server) onGuess(s socketio.Conn, payload guessPayload) map[string]any {
	ctx, ok := srv.session(s)
	if !ok {
		return srv.fail(s, "unauthorized", "No session attached")
	}
	sess, score, err := srv.Games.Guess(ctx.SessionID, payload.Guess)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	srv.emitStateTo(sess)
	return map[string]any{"session": sess.View(), "score": score}
}

func (srv *Server) onTurn(s socketio.Conn, payload turnPayload) map[string]any {
	ctx, ok := srv.session(s)
	if !ok {
		return srv.fail(s, "unauthorized", "No session attached")
	}
	sess, reply, err := srv.Games.Turn(context.Background(), ctx.SessionID, payload.Answer)
	srv.emitStateTo(sess)
	if err != nil {
		return srv.err(s, err, &sess)
	}
	log.Info().Str("session", sess.ID).Str("kind", string(reply.Kind())).Msg("game:turn")
	return roundAck(sess, reply)
}

// attach binds the connection to a session, leaving any previous one.
func (srv *Server) attach(s socketio.Conn, sessionID, token string) {
	if prev, ok := s.Context().(*ConnCtx); ok && prev.SessionID != "" && prev.SessionID != sessionID {
		s.Leave(prev.SessionID)
		srv.removeMember(prev.SessionID, s)
	}
	s.SetContext(&ConnCtx{SessionID: sessionID, Token: token})
	s.Join(sessionID)
	srv.addMember(sessionID, s)
}

func (srv *Server) session(s socketio.Conn) (*ConnCtx, bool) {
	ctx, ok := s.Context().(*ConnCtx)
	if !ok || ctx.SessionID == "" {
		return nil, false
	}
	return ctx, true
}

func (srv *Server) addMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[sessionID] == nil {
		srv.members[sessionID] = make(map[string]socketio.Conn)
	}
	srv.members[sessionID][c.ID()] = c
}

func (srv *Server) removeMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[sessionID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, sessionID)
		}
	}
}

func (srv *Server) conns(sessionID string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[sessionID]))
	for _, c := range srv.members[sessionID] {
		out = append(out, c)
	}
	return out
}

// emitStateTo pushes the session view to every connection watching it.
func (srv *Server) emitStateTo(sess game.Session) {
	if sess.ID == "" {
		return
	}
	view := sess.View()
	for _, c := range srv.conns(sess.ID) {
		c.Emit("game:state", view)
	}
}

func (srv *Server) err(s socketio.Conn, err error, sess *game.Session) map[string]any {
	_, code := api.ErrorCode(err)
	ack := srv.fail(s, code, err.Error())
	if sess != nil && sess.ID != "" {
		ack["session"] = sess.View()
	}
	return ack
}

func (srv *Server) fail(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": code, "message": message}
}

func roundAck(sess game.Session, reply schema.Classified) map[string]any {
	return map[string]any{"session": sess.View(), "kind": reply.Kind(), "reply": reply}
}

// watchers reports how many connections follow a session.
func (srv *Server) watchers(sessionID string) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members[sessionID])
}
