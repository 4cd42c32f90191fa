package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LLMGenerator produces questions by calling an OpenAI-compatible
// chat-completions endpoint (OpenAI, Ollama, LM Studio, vLLM, etc.).
type LLMGenerator struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

var _ Generator = (*LLMGenerator)(nil)

// GenerateError distinguishes "the model returned unusable output" from
// transport failures for callers that care.
type GenerateError struct {
	Reason  string
	Wrapped error
}

func (e *GenerateError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("question generation failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("question generation failed: %s", e.Reason)
}

func (e *GenerateError) Unwrap() error {
	return e.Wrapped
}

// NewLLMGenerator creates a generator against the given endpoint. apiKey may
// be empty for local servers.
func NewLLMGenerator(url, model, apiKey string) *LLMGenerator {
	return &LLMGenerator{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

const maxAttempts = 2

// Generate asks the model for a JSON array of questions and validates the
// result. It retries once on parse failure; small models sometimes need a
// second try.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	prompt := BuildPrompt(req) + "\n\n" + outputInstructions

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := g.callModel(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		jsonStr := extractJSONArray(raw)
		if jsonStr == "" {
			lastErr = &GenerateError{Reason: "no JSON array found in model response"}
			continue
		}
		var questions []GeneratedQuestion
		if err := json.Unmarshal([]byte(jsonStr), &questions); err != nil {
			lastErr = &GenerateError{Reason: "invalid JSON from model", Wrapped: err}
			continue
		}
		validated, err := validateQuestions(questions)
		if err != nil {
			lastErr = &GenerateError{Reason: "model output failed validation", Wrapped: err}
			continue
		}
		return validated, nil
	}
	return nil, &GenerateError{
		Reason:  fmt.Sprintf("failed after %d attempts", maxAttempts),
		Wrapped: lastErr,
	}
}

// outputInstructions pins the wire shape; it is the last thing the model sees.
const outputInstructions = `Respond with ONLY a JSON array — no explanation, no markdown:
[{"questionText": "...", "explanation": "...", "questionOrder": 0, "options": [{"optionText": "...", "optionOrder": 0, "isCorrect": true}, ...]}, ...]
Each question must have exactly one option with "isCorrect": true.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *LLMGenerator) callModel(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("model returned no content")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSONArray finds the outermost JSON array in a string, handling
// nested brackets and skipping brackets inside quoted strings. Models often
// wrap the payload in prose or markdown fences.
func extractJSONArray(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
