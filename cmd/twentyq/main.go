package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kiliankoe/twentyq/internal/ai"
	"github.com/kiliankoe/twentyq/internal/config"
	"github.com/kiliankoe/twentyq/internal/game"
	"github.com/kiliankoe/twentyq/internal/history"
	"github.com/kiliankoe/twentyq/internal/schema"
	"github.com/kiliankoe/twentyq/internal/scoring"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl > zerolog.InfoLevel {
		log.Logger = log.Logger.Level(lvl)
	}

	cmd := newRootCommand(cfg, func() (game.Model, error) { return ai.Default(cfg.AI()) })
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type modelFactory func() (game.Model, error)

func newRootCommand(cfg config.Config, newModel modelFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "twentyq",
		Short:         "Play 20 Questions about video games against a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(newPlayCommand(cfg, newModel), newHistoryCommand(cfg))
	return root
}

func newPlayCommand(cfg config.Config, newModel modelFactory) *cobra.Command {
	var (
		mode   string
		budget int
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one game in the terminal",
		Long: `Play one game in the terminal.

player-guesses: the model picks a secret game. Type questions; prefix a line
with "guess:" to name a title directly.
ai-guesses: you pick the secret game and answer the model's questions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gt, err := game.ParseGameType(mode)
			if err != nil {
				return err
			}
			model, err := newModel()
			if err != nil {
				return err
			}
			engine := game.NewEngine(model, nil, game.Options{Retries: cfg.ModelRetries, Timeout: cfg.ModelTimeout})
			p := &player{engine: engine, in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
			return p.play(cmd.Context(), gt, budget)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(game.PlayerGuesses), `game type: "player-guesses" or "ai-guesses"`)
	cmd.Flags().IntVar(&budget, "budget", cfg.QuestionBudget, "questions per game")
	return cmd
}

func newHistoryCommand(cfg config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished games from HISTORY_DSN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.HistoryDSN == "" {
				return errors.New("HISTORY_DSN is not set")
			}
			store, err := history.Open(cfg.HistoryDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			games, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, g := range games {
				fmt.Fprintf(out, "%s  %-14s %-5s %2d/%-2d  %s\n",
					g.FinishedAt.Format("2006-01-02 15:04"), g.GameType, g.Status, g.QuestionCount, g.QuestionBudget, g.SecretTitle)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of games to show")
	return cmd
}

var errQuit = errors.New("input closed")

type player struct {
	engine *game.Engine
	in     *bufio.Scanner
	out    io.Writer
}

func (p *player) play(ctx context.Context, gt game.GameType, budget int) error {
	s, err := p.engine.Start(ctx, gt, budget)
	if err != nil {
		if s != nil {
			p.result(s)
		}
		return err
	}

	switch gt {
	case game.PlayerGuesses:
		fmt.Fprintf(p.out, "I have picked a video game. You have %d questions.\n", s.QuestionBudget)
		err = p.playerGuesses(ctx, s)
	case game.AIGuesses:
		err = p.aiGuesses(ctx, s)
	}
	if errors.Is(err, errQuit) {
		return nil
	}
	p.result(s)
	return err
}

func (p *player) playerGuesses(ctx context.Context, s *game.Session) error {
	for !s.Status.Terminal() {
		line, err := p.read(fmt.Sprintf("[%d/%d] > ", s.QuestionCount+1, s.QuestionBudget))
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if guess, ok := strings.CutPrefix(line, "guess:"); ok {
			guess = strings.TrimSpace(guess)
			if guess == "" {
				fmt.Fprintln(p.out, "Name a title after guess:")
				continue
			}
			score, err := p.engine.Guess(s, guess)
			if err != nil {
				return err
			}
			fmt.Fprintf(p.out, "%s (%s)\n", s.History[len(s.History)-1].Answer, scoring.Label(score))
			continue
		}
		reply, err := p.engine.Ask(ctx, s, line)
		if err != nil {
			return err
		}
		switch r := reply.(type) {
		case schema.Answer:
			if r.Clarification != "" {
				fmt.Fprintf(p.out, "%s. %s\n", r.Answer, r.Clarification)
			} else {
				fmt.Fprintf(p.out, "%s.\n", r.Answer)
			}
		case schema.GuessResult:
			fmt.Fprintf(p.out, "%s\n", r.Response)
		}
	}
	return nil
}

func (p *player) aiGuesses(ctx context.Context, s *game.Session) error {
	title, err := p.read("Think of a video game and type its title (it stays on this machine): ")
	if err != nil {
		return err
	}
	if err := p.engine.SetSecret(s, title); err != nil {
		return err
	}
	answer := ""
	for !s.Status.Terminal() {
		reply, err := p.engine.Turn(ctx, s, answer)
		if err != nil {
			return err
		}
		answer = ""
		switch r := reply.(type) {
		case schema.Question:
			fmt.Fprintf(p.out, "[%d/%d] %s\n", s.QuestionCount, s.QuestionBudget, r.Content)
			for answer == "" && !s.Status.Terminal() {
				if answer, err = p.read("> "); err != nil {
					return err
				}
			}
		case schema.Guess:
			fmt.Fprintf(p.out, "[%d/%d] Is it %s? (%s)\n", s.QuestionCount, s.QuestionBudget, r.Content, scoring.Label(s.Score))
		}
	}
	return nil
}

func (p *player) read(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", errQuit
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *player) result(s *game.Session) {
	switch {
	case s.Failure != "":
		fmt.Fprintf(p.out, "The game was aborted: %s\n", s.Failure)
	case s.Status == game.StatusWon && s.GameType == game.PlayerGuesses:
		fmt.Fprintf(p.out, "You won after %d questions!\n", s.QuestionCount)
	case s.Status == game.StatusWon:
		fmt.Fprintf(p.out, "The model guessed it after %d questions.\n", s.QuestionCount)
	case s.GameType == game.PlayerGuesses:
		fmt.Fprintf(p.out, "Out of questions. It was %s.\n", s.SecretTitle)
	default:
		fmt.Fprintf(p.out, "The model ran out of questions. It was %s.\n", s.SecretTitle)
	}
}
