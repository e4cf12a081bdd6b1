package game

import (
	"errors"
	"fmt"
	"time"
)

// GameType selects who guesses. It never changes during a session.
type GameType string

const (
	PlayerGuesses GameType = "player-guesses"
	AIGuesses     GameType = "ai-guesses"
)

// ParseGameType accepts exactly one of the two literals, case-sensitively.
func ParseGameType(s string) (GameType, error) {
	switch GameType(s) {
	case PlayerGuesses, AIGuesses:
		return GameType(s), nil
	}
	return "", &UnknownGameTypeError{Value: s}
}

// Status is reported from the guessing side's point of view: won means the
// guesser (player or model) identified the secret.
type Status string

const (
	StatusAwaitingSecret Status = "awaiting-secret"
	StatusActive         Status = "active"
	StatusWon            Status = "won"
	StatusLost           Status = "lost"
)

func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost
}

const DefaultQuestionBudget = 20

const (
	ExchangeQuestion = "question"
	ExchangeGuess    = "guess"
)

// Exchange is one completed round.
type Exchange struct {
	Kind     string `json:"kind"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Session is owned by the Engine; only Engine methods mutate it.
type Session struct {
	ID             string
	GameType       GameType
	SecretTitle    string
	QuestionCount  int
	QuestionBudget int
	Status         Status

	// Score is the latest ScoreResult computed for this session.
	Score     float64
	LastGuess string
	// PendingQuestion is the model question awaiting the human's answer (ai-guesses).
	PendingQuestion string
	History         []Exchange
	// Failure is set when the session ended because the model could not be used.
	Failure       string
	PromptVersion string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

func (s *Session) clone() Session {
	out := *s
	out.History = append([]Exchange(nil), s.History...)
	return out
}

// View is the client-facing projection of a session. The secret is withheld
// from the player until the game is over.
type View struct {
	ID              string     `json:"sessionId"`
	GameType        GameType   `json:"gameType"`
	Status          Status     `json:"status"`
	QuestionCount   int        `json:"questionCount"`
	QuestionBudget  int        `json:"questionBudget"`
	Score           float64    `json:"score"`
	LastGuess       string     `json:"lastGuess,omitempty"`
	PendingQuestion string     `json:"pendingQuestion,omitempty"`
	History         []Exchange `json:"history"`
	SecretTitle     string     `json:"secretTitle,omitempty"`
	Failure         string     `json:"failure,omitempty"`
}

func (s Session) View() View {
	v := View{
		ID:              s.ID,
		GameType:        s.GameType,
		Status:          s.Status,
		QuestionCount:   s.QuestionCount,
		QuestionBudget:  s.QuestionBudget,
		Score:           s.Score,
		LastGuess:       s.LastGuess,
		PendingQuestion: s.PendingQuestion,
		History:         append([]Exchange{}, s.History...),
		Failure:         s.Failure,
	}
	if s.GameType == AIGuesses || s.Status.Terminal() {
		v.SecretTitle = s.SecretTitle
	}
	return v
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidState    = errors.New("invalid state for action")
	ErrSessionOver     = errors.New("session is over")
	ErrWrongGameType   = errors.New("action not available for this game type")
	ErrEmptyInput      = errors.New("input must not be empty")
	ErrInvalidBudget   = errors.New("question budget must be positive")
	ErrUnknownGameType = errors.New("unknown game type")
	ErrRoundFailed     = errors.New("model round failed")
)

// UnknownGameTypeError rejects a game type outside the closed set.
type UnknownGameTypeError struct {
	Value string
}

func (e *UnknownGameTypeError) Error() string {
	return fmt.Sprintf("unknown game type %q (want %q or %q)", e.Value, PlayerGuesses, AIGuesses)
}

func (e *UnknownGameTypeError) Is(target error) bool {
	return target == ErrUnknownGameType
}

// RoundError reports a round that exhausted its attempts. The session it
// belongs to has been moved to StatusLost.
type RoundError struct {
	Attempts int
	Err      error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("model round failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RoundError) Unwrap() error { return e.Err }

func (e *RoundError) Is(target error) bool {
	return target == ErrRoundFailed
}
