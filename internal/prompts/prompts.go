// Package prompts renders the instruction text sent to the language model.
//
// The templates are an interface contract: the validator in package schema
// expects exactly the shapes described here. Changing wording or keys is a
// breaking change and must bump Version.
package prompts

import (
	"fmt"
	"strings"
)

// Version identifies the current template set. It is recorded with every
// finished game so transcripts can be matched to the wording that produced them.
const Version = "v1"

// StrictJSON is the sentence every template uses to demand machine-readable output.
const StrictJSON = "Your response MUST be a single valid JSON object and nothing else: no prose, no markdown, no code fences."

const secretPickTemplate = `We are playing a guessing game about video games.
Pick one well-known video game title that a typical player would recognise.
Do not pick any of these previously used titles: %s
%s
Use exactly this key:
{"title": "<the video game title>"}`

// SecretPick asks the model to choose a new secret title. excluded is
// rendered comma-joined without spaces.
func SecretPick(excluded []string) string {
	list := strings.Join(excluded, ",")
	if list == "" {
		list = "none"
	}
	return fmt.Sprintf(secretPickTemplate, list, StrictJSON)
}

const playerQATemplate = `You are the host of a game of 20 Questions about video games.
The secret video game is: %s
The player is trying to identify it. Never reveal the title unless the player has guessed it correctly.

The player says: %s

Decide whether the player is asking a yes/no question or trying to guess the title.

If it is a yes/no question, respond with:
{"type": "answer", "questionCount": <number>, "answer": "Yes" | "No" | "I don't know", "clarification": "<optional short clarification>"}

If it is a guess at the title, respond with:
{"type": "guessResult", "questionCount": <number>, "correct": true | false, "response": "<short message to the player>", "confidence": <1-10>}

"confidence" is how sure you are of your judgement, from 1 (unsure) to 10 (certain).
%s`

// PlayerQA builds the oracle prompt for one player message. Both reply shapes
// are always described; the model decides which one applies.
func PlayerQA(question, secretTitle string) string {
	return fmt.Sprintf(playerQATemplate, secretTitle, question, StrictJSON)
}

// PlayerQARound is PlayerQA plus the counter value the model must echo in
// "questionCount".
func PlayerQARound(question, secretTitle string, questionCount int) string {
	return PlayerQA(question, secretTitle) +
		fmt.Sprintf("\nSet \"questionCount\" to %d.", questionCount)
}

const aiGuessTemplate = `Let's play %d Questions! I am thinking of a well-known video game and you have to find out which one.
Ask me yes/no questions one at a time, or make a final guess when you are confident.
You may use at most %d questions and guesses in total.
Total questions: %d

To ask a question, respond with:
{"type": "question", "content": "<your yes/no question>"}

To guess the title, respond with:
{"type": "guess", "content": "<the video game title>"}
%s`

// AIGuessInitial opens a game in which the model is the guesser.
func AIGuessInitial(questionBudget int) string {
	return fmt.Sprintf(aiGuessTemplate, questionBudget, questionBudget, questionBudget, StrictJSON)
}

// Exchange is one question with the answer it received.
type Exchange struct {
	Question string
	Answer   string
}

// AIGuessTurn continues an ai-guesses game: the opening prompt, every
// exchange so far and the remaining budget.
func AIGuessTurn(questionBudget int, history []Exchange) string {
	if len(history) == 0 {
		return AIGuessInitial(questionBudget)
	}
	var sb strings.Builder
	sb.WriteString(AIGuessInitial(questionBudget))
	sb.WriteString("\n\nGame so far:\n")
	for i, ex := range history {
		fmt.Fprintf(&sb, "%d. You: %s\n   Me: %s\n", i+1, ex.Question, ex.Answer)
	}
	fmt.Fprintf(&sb, "\nQuestions used: %d of %d. Questions left: %d.\n", len(history), questionBudget, questionBudget-len(history))
	sb.WriteString("Ask your next question or make your guess.")
	return sb.String()
}

// Reprompt re-issues prompt after a rejected reply, naming the reason.
func Reprompt(prompt, reason string) string {
	return prompt + "\n\nYour previous reply was rejected (" + reason + "). " +
		"Reply again with ONLY the JSON object described above, using exactly the keys shown."
}
