// Package history persists finished sessions in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/game"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS games (
    id              TEXT PRIMARY KEY,
    game_type       TEXT NOT NULL,
    status          TEXT NOT NULL,
    secret_title    TEXT NOT NULL,
    question_count  INTEGER NOT NULL,
    question_budget INTEGER NOT NULL,
    score           REAL NOT NULL,
    last_guess      TEXT NOT NULL DEFAULT '',
    failure         TEXT NOT NULL DEFAULT '',
    history         TEXT NOT NULL,
    prompt_version  TEXT NOT NULL,
    created_at      TIMESTAMP NOT NULL,
    finished_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS games_finished_at ON games(finished_at);
`

// Game is one stored session.
type Game struct {
	ID             string          `json:"sessionId"`
	GameType       game.GameType   `json:"gameType"`
	Status         game.Status     `json:"status"`
	SecretTitle    string          `json:"secretTitle"`
	QuestionCount  int             `json:"questionCount"`
	QuestionBudget int             `json:"questionBudget"`
	Score          float64         `json:"score"`
	LastGuess      string          `json:"lastGuess,omitempty"`
	Failure        string          `json:"failure,omitempty"`
	History        []game.Exchange `json:"history"`
	PromptVersion  string          `json:"promptVersion"`
	CreatedAt      time.Time       `json:"createdAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
}

// Stat counts finished games per game type and status.
type Stat struct {
	GameType         game.GameType `json:"gameType"`
	Status           game.Status   `json:"status"`
	Games            int           `json:"games"`
	AvgQuestionCount float64       `json:"avgQuestionCount"`
}

type Store struct {
	db *sql.DB
}

// Open opens (and creates if missing) the database at dsn and applies the
// schema. ":memory:" works for tests.
func Open(dsn string) (*Store, error) {
	if !strings.HasPrefix(dsn, ":memory:") {
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer; also keeps an in-memory database alive across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Str("dsn", dsn).Msg("history store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores a terminal session. Recording the same session twice keeps
// the latest copy.
func (s *Store) Record(ctx context.Context, sess game.Session) error {
	if !sess.Status.Terminal() {
		return fmt.Errorf("session %s is still %s", sess.ID, sess.Status)
	}
	history, err := json.Marshal(sess.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO games
            (id, game_type, status, secret_title, question_count, question_budget,
             score, last_guess, failure, history, prompt_version, created_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.GameType), string(sess.Status), sess.SecretTitle,
		sess.QuestionCount, sess.QuestionBudget, sess.Score, sess.LastGuess, sess.Failure,
		string(history), sess.PromptVersion, sess.CreatedAt.UTC(), sess.FinishedAt.UTC(),
	)
	return err
}

// Recent returns the latest finished games, newest first. Default limit is 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Game, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, game_type, status, secret_title, question_count, question_budget,
               score, last_guess, failure, history, prompt_version, created_at, finished_at
        FROM games
        ORDER BY finished_at DESC, id ASC
        LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Game, 0, limit)
	for rows.Next() {
		var (
			g       Game
			history string
		)
		if err := rows.Scan(&g.ID, &g.GameType, &g.Status, &g.SecretTitle, &g.QuestionCount,
			&g.QuestionBudget, &g.Score, &g.LastGuess, &g.Failure, &history, &g.PromptVersion,
			&g.CreatedAt, &g.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(history), &g.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Titles returns every secret title played so far, oldest first. The server
// seeds the exclusion list with them on startup.
func (s *Store) Titles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT secret_title FROM games
        WHERE game_type = ? AND secret_title <> ''
        ORDER BY created_at ASC`, string(game.PlayerGuesses),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) ([]Stat, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT game_type, status, COUNT(1), AVG(question_count)
        FROM games
        GROUP BY game_type, status
        ORDER BY game_type, status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stat
	for rows.Next() {
		var st Stat
		if err := rows.Scan(&st.GameType, &st.Status, &st.Games, &st.AvgQuestionCount); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
