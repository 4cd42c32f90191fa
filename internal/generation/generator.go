package generation

import (
	"context"
	"fmt"
	"strings"

	"quizlab-service/internal/domain"
)

// Request describes what to generate, derived from the lab configuration.
type Request struct {
	QuestionSize int
	Difficulty   domain.Difficulty
	Topics       []string
}

// GeneratedOption is one answer choice as produced by the generator.
type GeneratedOption struct {
	Text      string `json:"optionText"`
	Order     int    `json:"optionOrder"`
	IsCorrect bool   `json:"isCorrect"`
}

// GeneratedQuestion is one question as produced by the generator, options in
// display order.
type GeneratedQuestion struct {
	Text        string            `json:"questionText"`
	Explanation string            `json:"explanation,omitempty"`
	Order       int               `json:"questionOrder"`
	Options     []GeneratedOption `json:"options"`
}

// Generator produces a well-formed ordered list of questions with options.
// Implementations may call an LLM or return canned content (for tests/dev).
type Generator interface {
	Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error)
}

// BuildPrompt renders the generation instruction from the lab configuration.
func BuildPrompt(req Request) string {
	return fmt.Sprintf(
		"Generate %d questions for a %s difficulty level lab. The topics are %s. The questions should be related to the topics and the difficulty level.",
		req.QuestionSize, req.Difficulty, strings.Join(req.Topics, ", "),
	)
}

// validateQuestions normalizes generator output: orders are rewritten to a
// dense 0-based sequence and every question must carry at least one correct
// option. This is the only place option correctness is enforced; owner edits
// afterwards are not re-validated.
func validateQuestions(questions []GeneratedQuestion) ([]GeneratedQuestion, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("generator returned no questions")
	}
	for i := range questions {
		q := &questions[i]
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question %d has empty text", i)
		}
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %d has no options", i)
		}
		hasCorrect := false
		for j := range q.Options {
			if strings.TrimSpace(q.Options[j].Text) == "" {
				return nil, fmt.Errorf("question %d option %d has empty text", i, j)
			}
			q.Options[j].Order = j
			if q.Options[j].IsCorrect {
				hasCorrect = true
			}
		}
		if !hasCorrect {
			return nil, fmt.Errorf("question %d has no correct option", i)
		}
		q.Order = i
	}
	return questions, nil
}

// StaticGenerator produces deterministic placeholder questions; it keeps the
// full workflow exercisable without an LLM endpoint (dev and tests).
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, req Request) ([]GeneratedQuestion, error) {
	topics := req.Topics
	if len(topics) == 0 {
		topics = []string{"general knowledge"}
	}
	questions := make([]GeneratedQuestion, 0, req.QuestionSize)
	for i := 0; i < req.QuestionSize; i++ {
		topic := topics[i%len(topics)]
		q := GeneratedQuestion{
			Text:        fmt.Sprintf("Placeholder question %d about %s (%s level)", i+1, topic, req.Difficulty),
			Explanation: fmt.Sprintf("Replace with real content for %s.", topic),
			Order:       i,
		}
		for j := 0; j < 4; j++ {
			q.Options = append(q.Options, GeneratedOption{
				Text:      fmt.Sprintf("Choice %c", 'A'+j),
				Order:     j,
				IsCorrect: j == 0,
			})
		}
		questions = append(questions, q)
	}
	return questions, nil
}
