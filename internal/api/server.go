// Package api exposes game sessions over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/game"
	"github.com/kiliankoe/twentyq/internal/history"
	"github.com/kiliankoe/twentyq/internal/schema"
)

type Server struct {
	games   *game.Service
	tokens  *Tokens
	limiter *RateLimiter
	history *history.Store
	budget  int
}

// New wires the handlers. limiter and store may be nil.
func New(games *game.Service, tokens *Tokens, limiter *RateLimiter, store *history.Store, defaultBudget int) *Server {
	if defaultBudget <= 0 {
		defaultBudget = game.DefaultQuestionBudget
	}
	return &Server{games: games, tokens: tokens, limiter: limiter, history: store, budget: defaultBudget}
}

func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/games", s.limit("create"), s.createGame)

	sess := api.Group("/games/:id", s.authorize)
	sess.GET("", s.getGame)
	sess.POST("/secret", s.setSecret)
	sess.POST("/questions", s.limit("ask"), s.ask)
	sess.POST("/guesses", s.guess)
	sess.POST("/turns", s.limit("turn"), s.turn)

	if s.history != nil {
		api.GET("/history", s.recentGames)
		api.GET("/history/stats", s.stats)
	}
}

func (s *Server) limit(endpoint string) gin.HandlerFunc {
	if s.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.limiter.Middleware(endpoint)
}

// authorize requires a bearer token whose session matches :id.
func (s *Server) authorize(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
		return
	}
	sid, err := s.tokens.Parse(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
		return
	}
	if sid != c.Param("id") {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "token belongs to another session"})
		return
	}
	c.Next()
}

type createRequest struct {
	GameType       string `json:"gameType" binding:"required"`
	QuestionBudget int    `json:"questionBudget" binding:"omitempty,gt=0"`
}

func (s *Server) createGame(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	gt, err := game.ParseGameType(req.GameType)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	budget := req.QuestionBudget
	if budget == 0 {
		budget = s.budget
	}

	sess, err := s.games.Create(c.Request.Context(), gt, budget)
	if err != nil {
		writeError(c, err, &sess)
		return
	}
	token, err := s.tokens.Issue(sess.ID)
	if err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not issue token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": sess.ID, "token": token, "session": sess.View()})
}

func (s *Server) getGame(c *gin.Context) {
	sess, err := s.games.Get(c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.View()})
}

type secretRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) setSecret(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.games.SetSecret(c.Param("id"), req.Title)
	if err != nil {
		writeError(c, err, &sess)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.View()})
}

type questionRequest struct {
	Question string `json:"question" binding:"required"`
}

func (s *Server) ask(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, reply, err := s.games.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		writeError(c, err, &sess)
		return
	}
	c.JSON(http.StatusOK, roundResponse(sess, reply))
}

type guessRequest struct {
	Guess string `json:"guess" binding:"required"`
}

func (s *Server) guess(c *gin.Context) {
	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, score, err := s.games.Guess(c.Param("id"), req.Guess)
	if err != nil {
		writeError(c, err, &sess)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.View(), "score": score})
}

type turnRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) turn(c *gin.Context) {
	var req turnRequest
	// An empty body means "ask the next question", however it was framed.
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
	}
	sess, reply, err := s.games.Turn(c.Request.Context(), c.Param("id"), req.Answer)
	if err != nil {
		writeError(c, err, &sess)
		return
	}
	c.JSON(http.StatusOK, roundResponse(sess, reply))
}

func (s *Server) recentGames(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	games, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("history query")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.history.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("history stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func roundResponse(sess game.Session, reply schema.Classified) gin.H {
	return gin.H{"session": sess.View(), "kind": reply.Kind(), "reply": reply}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
}

// ErrorCode maps a domain error to an HTTP status and a stable machine code.
func ErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrUnknownGameType):
		return http.StatusBadRequest, "unknown_game_type"
	case errors.Is(err, game.ErrInvalidBudget):
		return http.StatusBadRequest, "invalid_budget"
	case errors.Is(err, game.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, game.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, game.ErrSessionOver):
		return http.StatusConflict, "session_over"
	case errors.Is(err, game.ErrWrongGameType):
		return http.StatusConflict, "wrong_game_type"
	case errors.Is(err, game.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, game.ErrRoundFailed):
		return http.StatusBadGateway, "round_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError attaches sess, when populated, so clients see e.g. the terminal
// state after a failed round.
func writeError(c *gin.Context, err error, sess *game.Session) {
	status, code := ErrorCode(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"error": code, "message": err.Error()}
	if sess != nil && sess.ID != "" {
		body["session"] = sess.View()
	}
	c.JSON(status, body)
}
