package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiliankoe/twentyq/internal/scoring"
)

// ExportSession appends a plain-text transcript of a finished session to filename.
func ExportSession(s Session, filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(Transcript(s)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// Transcript renders s the way ExportSession writes it.
func Transcript(s Session) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Twenty Questions - Session %s (%s)\n", s.ID, s.GameType))
	sb.WriteString(fmt.Sprintf("Started: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Prompts: %s\n", s.PromptVersion))
	sb.WriteString(fmt.Sprintf("Secret: %q\n", s.SecretTitle))
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	for i, ex := range s.History {
		label := "Q"
		if ex.Kind == ExchangeGuess {
			label = "Guess"
		}
		sb.WriteString(fmt.Sprintf("%2d. %s: %s\n    -> %s\n", i+1, label, ex.Question, ex.Answer))
	}
	if s.PendingQuestion != "" {
		sb.WriteString(fmt.Sprintf("    Unanswered: %s\n", s.PendingQuestion))
	}

	sb.WriteString(strings.Repeat("-", 40) + "\n")
	sb.WriteString(fmt.Sprintf("Result: %s after %d/%d rounds", s.Status, s.QuestionCount, s.QuestionBudget))
	if s.LastGuess != "" {
		sb.WriteString(fmt.Sprintf(", last guess %q (%s)", s.LastGuess, scoring.Label(s.Score)))
	}
	sb.WriteString("\n")
	if s.Failure != "" {
		sb.WriteString(fmt.Sprintf("Failure: %s\n", s.Failure))
	}
	if !s.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Game ended at %s\n", s.FinishedAt.Format("2006-01-02 15:04:05")))
	}
	sb.WriteString("\n")
	return sb.String()
}
