package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kiliankoe/twentyq/internal/config"
	"github.com/kiliankoe/twentyq/internal/game"
)

type cannedModel struct {
	replies []string
}

func (m *cannedModel) Complete(ctx context.Context, prompt string) (string, error) {
	if len(m.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func testConfig() config.Config {
	return config.Config{QuestionBudget: 3, ModelRetries: 0, ModelTimeout: time.Second}
}

func execute(t *testing.T, model game.Model, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(testConfig(), func() (game.Model, error) { return model, nil })
	var stdout bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() {
		Version = originalVersion
	}()
	Version = "v0.1.0-test"

	output, err := execute(t, nil, "", "--version")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(output) != "v0.1.0-test" {
		t.Fatalf("version output = %q, want %q", output, "v0.1.0-test")
	}
}

func TestPlayPlayerGuesses(t *testing.T) {
	model := &cannedModel{replies: []string{
		`{"title":"Portal"}`,
		`{"type":"answer","questionCount":0,"answer":"Yes","clarification":"Mind-bending ones."}`,
	}}
	output, err := execute(t, model, "Is it a puzzle game?\nguess: portal\n", "play")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"You have 3 questions", "Yes. Mind-bending ones.", "Correct! (exact)", "You won after 2 questions!"} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, output)
		}
	}
}

func TestPlayIgnoresBlankGuess(t *testing.T) {
	model := &cannedModel{replies: []string{`{"title":"Portal"}`}}
	output, err := execute(t, model, "guess:   \nguess: portal\n", "play")
	if err != nil {
		t.Fatalf("blank guess should not end the game: %v", err)
	}
	if !strings.Contains(output, "Name a title after guess:") {
		t.Fatalf("output missing hint:\n%s", output)
	}
	if !strings.Contains(output, "Correct! (exact)") {
		t.Fatalf("output missing win:\n%s", output)
	}
}

func TestPlayAIGuessesRunsOutOfQuestions(t *testing.T) {
	model := &cannedModel{replies: []string{
		`{"type":"question","content":"Is it a shooter?"}`,
		`{"type":"guess","content":"Doom"}`,
		`{"type":"question","content":"Is it old?"}`,
	}}
	output, err := execute(t, model, "Celeste\nNo\n", "play", "--mode", "ai-guesses")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"[1/3] Is it a shooter?", "[2/3] Is it Doom? (miss)", "[3/3] Is it old?", "The model ran out of questions. It was Celeste."} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, output)
		}
	}
}

func TestPlayRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, &cannedModel{}, "", "play", "--mode", "both")
	if !errors.Is(err, game.ErrUnknownGameType) {
		t.Fatalf("expected ErrUnknownGameType, got %v", err)
	}
}

func TestPlayReportsAbortedGame(t *testing.T) {
	output, err := execute(t, &cannedModel{replies: []string{"Portal!"}}, "", "play")
	if !errors.Is(err, game.ErrRoundFailed) {
		t.Fatalf("expected ErrRoundFailed, got %v", err)
	}
	if !strings.Contains(output, "The game was aborted") {
		t.Fatalf("output missing abort notice:\n%s", output)
	}
}
