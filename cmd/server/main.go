package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/ai"
	"github.com/kiliankoe/twentyq/internal/api"
	"github.com/kiliankoe/twentyq/internal/config"
	"github.com/kiliankoe/twentyq/internal/game"
	"github.com/kiliankoe/twentyq/internal/history"
	"github.com/kiliankoe/twentyq/internal/metrics"
	"github.com/kiliankoe/twentyq/internal/ws"
)

const version = "v0.3.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`twentyq - 20 Questions about video games, played against a language model

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  CONFIG_FILE         Optional TOML file read before the environment
  DEFAULT_PROVIDER    AI provider: "openai" or "ollama" (default: openai)
  DEFAULT_MODEL       AI model to use (default: gpt-4o-mini)
  OPENAI_API_KEY      OpenAI API key (required for OpenAI provider)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  OLLAMA_HOST         Ollama host URL (default: http://localhost:11434)
  QUESTION_BUDGET     Rounds per game (default: 20)
  MODEL_RETRIES       Re-prompts after a rejected reply (default: 1)
  MODEL_TIMEOUT       Timeout per model call (default: 20s)
  SESSION_TTL         Idle sessions are dropped after this long (default: 2h)
  JWT_SECRET          Secret for session tokens (random per start if unset)
  REDIS_ADDR          Redis for rate limiting (optional, fail-open)
  RATE_LIMIT          Model-calling requests per window and IP (default: 30)
  RATE_WINDOW         Rate limit window (default: 1m)
  HISTORY_DSN         SQLite file for finished games (optional)
  EXPORT_ENABLED      Append transcripts of finished games to a file (default: false)
  EXPORT_FILE         Transcript file (default: ./twentyq-results.txt)
  LOG_LEVEL           zerolog level (default: info)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("twentyq %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		log.Warn().Msg("JWT_SECRET not set, session tokens will not survive a restart")
	}

	model, err := ai.Default(cfg.AI())
	if err != nil {
		log.Fatal().Err(err).Msg("model provider")
	}

	var store *history.Store
	exclusions := game.NewExclusions()
	if cfg.HistoryDSN != "" {
		store, err = history.Open(cfg.HistoryDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open history")
		}
		defer store.Close()
		titles, err := store.Titles(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("load played titles")
		}
		exclusions = game.NewExclusions(titles...)
		log.Info().Int("titles", exclusions.Len()).Msg("exclusion list seeded from history")
	}

	engine := game.NewEngine(model, exclusions, game.Options{Retries: cfg.ModelRetries, Timeout: cfg.ModelTimeout})
	manager := game.NewManager(countFinished)
	if store != nil {
		manager.OnFinish(recordGame(store))
	}
	if cfg.ExportEnabled {
		manager.OnFinish(exportGame(cfg.ExportFile))
	}
	games := game.NewService(engine, manager)
	tokens := api.NewTokens(cfg.JWTSecret, cfg.SessionTTL)
	limiter := api.NewRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimit, cfg.RateWindow)
	defer limiter.Close()

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	// Healthcheck
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "sessions": manager.Len(), "version": version})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.New(games, tokens, limiter, store, cfg.QuestionBudget).Register(r)
	sock := ws.New(games, tokens, cfg.QuestionBudget)
	io := sock.Mount(r)
	defer io.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reap(ctx, manager, cfg.SessionTTL)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info().Str("port", cfg.Port).Str("provider", cfg.DefaultProvider).Str("model", cfg.DefaultModel).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}

func countFinished(s game.Session) {
	metrics.GamesFinished.WithLabelValues(string(s.GameType), string(s.Status)).Inc()
}

func recordGame(store *history.Store) game.FinishHook {
	return func(s game.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Record(ctx, s); err != nil {
			log.Error().Err(err).Str("session", s.ID).Msg("failed to record game")
		}
	}
}

func exportGame(file string) game.FinishHook {
	return func(s game.Session) {
		if err := game.ExportSession(s, file); err != nil {
			log.Error().Err(err).Str("session", s.ID).Msg("failed to export game data")
			return
		}
		log.Info().Str("session", s.ID).Str("file", file).Msg("exported game data")
	}
}

func reap(ctx context.Context, m *game.Manager, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Reap(now, ttl); n > 0 {
				log.Info().Int("reaped", n).Int("live", m.Len()).Msg("idle sessions dropped")
			}
		}
	}
}
