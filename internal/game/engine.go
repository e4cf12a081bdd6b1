package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/twentyq/internal/metrics"
	"github.com/kiliankoe/twentyq/internal/prompts"
	"github.com/kiliankoe/twentyq/internal/schema"
	"github.com/kiliankoe/twentyq/internal/scoring"
)

// Model is the language-model client as the engine sees it. Replies are
// untrusted text.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	DefaultRetries = 1
	DefaultTimeout = 20 * time.Second
)

type Options struct {
	// Retries is the number of re-prompts after a failed attempt.
	Retries int
	// Timeout bounds every single model call.
	Timeout time.Duration
}

// Engine drives sessions through their rounds. It holds no per-session
// state; callers serialise operations on the same session (see Manager).
type Engine struct {
	model      Model
	exclusions *Exclusions
	retries    int
	timeout    time.Duration
	now        func() time.Time
}

func NewEngine(model Model, exclusions *Exclusions, opts Options) *Engine {
	if exclusions == nil {
		exclusions = NewExclusions()
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Engine{
		model:      model,
		exclusions: exclusions,
		retries:    opts.Retries,
		timeout:    opts.Timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var errRepeatedTitle = errors.New("secret title was already used")

// Start creates a session. For player-guesses the model picks the secret
// before Start returns; if that fails the returned session is already lost
// and the error is a *RoundError. ai-guesses sessions wait for SetSecret.
func (e *Engine) Start(ctx context.Context, gameType GameType, budget int) (*Session, error) {
	if _, err := ParseGameType(string(gameType)); err != nil {
		return nil, err
	}
	if budget <= 0 {
		return nil, ErrInvalidBudget
	}
	now := e.now()
	s := &Session{
		ID:             uuid.NewString(),
		GameType:       gameType,
		QuestionBudget: budget,
		Status:         StatusAwaitingSecret,
		PromptVersion:  prompts.Version,
		History:        []Exchange{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if gameType == AIGuesses {
		log.Info().Str("session", s.ID).Str("gameType", string(gameType)).Int("budget", budget).Msg("session created")
		return s, nil
	}

	prompt := prompts.SecretPick(e.exclusions.Titles())
	var title string
	err := e.round(ctx, s, schema.FamilySecret, prompt, func(text string) error {
		t, err := schema.ParseSecret(text)
		if err != nil {
			return err
		}
		if !e.exclusions.Claim(t) {
			return fmt.Errorf("%w: %q", errRepeatedTitle, t)
		}
		title = t
		return nil
	})
	if err != nil {
		if e.abort(s, err) {
			return s, err
		}
		return nil, err
	}

	s.SecretTitle = title
	s.Status = StatusActive
	s.UpdatedAt = e.now()
	log.Info().Str("session", s.ID).Str("gameType", string(gameType)).Int("budget", budget).Msg("session created")
	return s, nil
}

// SetSecret stores the human's secret for an ai-guesses session.
func (e *Engine) SetSecret(s *Session, title string) error {
	if s.GameType != AIGuesses {
		return ErrWrongGameType
	}
	if err := expectStatus(s, StatusAwaitingSecret); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyInput
	}
	s.SecretTitle = title
	s.Status = StatusActive
	s.UpdatedAt = e.now()
	return nil
}

// Ask plays one player-guesses round: the model answers the question or, if
// the message is a guess, judges it. The model's own verdict decides a win.
func (e *Engine) Ask(ctx context.Context, s *Session, question string) (schema.Classified, error) {
	if s.GameType != PlayerGuesses {
		return nil, ErrWrongGameType
	}
	if err := expectStatus(s, StatusActive); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyInput
	}

	prompt := prompts.PlayerQARound(question, s.SecretTitle, s.QuestionCount)
	var reply schema.Classified
	err := e.round(ctx, s, schema.FamilyPlayerQA, prompt, func(text string) error {
		c, err := schema.Parse(text, schema.FamilyPlayerQA, s.QuestionCount)
		reply = c
		return err
	})
	if err != nil {
		e.abort(s, err)
		return nil, err
	}

	s.QuestionCount++
	switch r := reply.(type) {
	case schema.Answer:
		answer := r.Answer
		if r.Clarification != "" {
			answer += " (" + r.Clarification + ")"
		}
		s.History = append(s.History, Exchange{Kind: ExchangeQuestion, Question: question, Answer: answer})
		e.settle(s, false)
	case schema.GuessResult:
		s.History = append(s.History, Exchange{Kind: ExchangeGuess, Question: question, Answer: r.Response})
		e.settle(s, r.Correct)
	}
	e.logRound(s, reply.Kind())
	return reply, nil
}

// Guess scores a direct player guess locally, without a model call.
func (e *Engine) Guess(s *Session, guess string) (float64, error) {
	if s.GameType != PlayerGuesses {
		return 0, ErrWrongGameType
	}
	if err := expectStatus(s, StatusActive); err != nil {
		return 0, err
	}
	guess = strings.TrimSpace(guess)
	if guess == "" {
		return 0, ErrEmptyInput
	}

	score := scoring.Score(guess, s.SecretTitle)
	s.QuestionCount++
	s.Score = score
	s.LastGuess = guess
	s.History = append(s.History, Exchange{Kind: ExchangeGuess, Question: guess, Answer: guessFeedback(score)})
	e.settle(s, score == scoring.ScoreExact)
	e.logRound(s, schema.KindGuess)
	return score, nil
}

// Turn plays one ai-guesses round. answer is the human's reply to the
// pending model question and is required whenever one is pending.
func (e *Engine) Turn(ctx context.Context, s *Session, answer string) (schema.Classified, error) {
	if s.GameType != AIGuesses {
		return nil, ErrWrongGameType
	}
	if err := expectStatus(s, StatusActive); err != nil {
		return nil, err
	}

	history := s.History
	if s.PendingQuestion != "" {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return nil, ErrEmptyInput
		}
		history = append(append([]Exchange(nil), s.History...),
			Exchange{Kind: ExchangeQuestion, Question: s.PendingQuestion, Answer: answer})
	}

	prompt := prompts.AIGuessTurn(s.QuestionBudget, promptHistory(history))
	var reply schema.Classified
	err := e.round(ctx, s, schema.FamilyAITurn, prompt, func(text string) error {
		c, err := schema.Parse(text, schema.FamilyAITurn, s.QuestionCount)
		reply = c
		return err
	})
	if err != nil {
		e.abort(s, err)
		return nil, err
	}

	s.History = history
	s.PendingQuestion = ""
	s.QuestionCount++
	switch r := reply.(type) {
	case schema.Question:
		s.PendingQuestion = r.Content
		e.settle(s, false)
	case schema.Guess:
		score := scoring.Score(r.Content, s.SecretTitle)
		s.Score = score
		s.LastGuess = r.Content
		s.History = append(s.History, Exchange{Kind: ExchangeGuess, Question: r.Content, Answer: guessFeedback(score)})
		e.settle(s, score == scoring.ScoreExact)
	}
	e.logRound(s, reply.Kind())
	return reply, nil
}

// round runs one model exchange with bounded retries. parse must leave no
// trace on s; nothing is applied until round returns nil.
func (e *Engine) round(ctx context.Context, s *Session, family schema.Family, prompt string, parse func(string) error) error {
	attempts := e.retries + 1
	current := prompt
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := e.complete(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ModelCalls.WithLabelValues(string(family), "error").Inc()
			log.Warn().Err(err).Str("session", s.ID).Str("family", string(family)).Int("attempt", attempt).Msg("model call failed")
			last = err
			current = prompt
			continue
		}
		if err := parse(text); err != nil {
			metrics.ModelCalls.WithLabelValues(string(family), "invalid").Inc()
			log.Warn().Err(err).Str("session", s.ID).Str("family", string(family)).Int("attempt", attempt).Msg("model reply rejected")
			last = err
			current = prompts.Reprompt(prompt, err.Error())
			continue
		}
		metrics.ModelCalls.WithLabelValues(string(family), "ok").Inc()
		return nil
	}
	metrics.RoundFailures.WithLabelValues(string(family)).Inc()
	return &RoundError{Attempts: attempts, Err: last}
}

func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.model.Complete(ctx, prompt)
}

// abort ends s when err is an exhausted round and reports whether it did.
// Cancellation leaves s untouched.
func (e *Engine) abort(s *Session, err error) bool {
	var roundErr *RoundError
	if !errors.As(err, &roundErr) {
		return false
	}
	s.Failure = roundErr.Err.Error()
	e.finish(s, StatusLost)
	log.Error().Err(err).Str("session", s.ID).Int("questionCount", s.QuestionCount).Msg("session failed")
	return true
}

// settle applies the terminal checks after a counted round.
func (e *Engine) settle(s *Session, won bool) {
	switch {
	case won:
		e.finish(s, StatusWon)
	case s.QuestionCount >= s.QuestionBudget:
		e.finish(s, StatusLost)
	default:
		s.UpdatedAt = e.now()
	}
}

func (e *Engine) finish(s *Session, status Status) {
	s.Status = status
	s.FinishedAt = e.now()
	s.UpdatedAt = s.FinishedAt
}

func (e *Engine) logRound(s *Session, kind schema.Kind) {
	metrics.Rounds.WithLabelValues(string(s.GameType), string(kind)).Inc()
	log.Info().
		Str("session", s.ID).
		Str("gameType", string(s.GameType)).
		Str("kind", string(kind)).
		Int("questionCount", s.QuestionCount).
		Str("status", string(s.Status)).
		Msg("round")
}

func expectStatus(s *Session, want Status) error {
	if s.Status.Terminal() {
		return ErrSessionOver
	}
	if s.Status != want {
		return ErrInvalidState
	}
	return nil
}

func guessFeedback(score float64) string {
	switch score {
	case scoring.ScoreExact:
		return "Correct!"
	case scoring.ScoreNear:
		return "Very close, but not quite."
	default:
		return "No, that is not it."
	}
}

func promptHistory(history []Exchange) []prompts.Exchange {
	out := make([]prompts.Exchange, 0, len(history))
	for _, ex := range history {
		q := ex.Question
		if ex.Kind == ExchangeGuess {
			q = "Is it " + ex.Question + "?"
		}
		out = append(out, prompts.Exchange{Question: q, Answer: ex.Answer})
	}
	return out
}
