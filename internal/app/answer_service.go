package app

import (
	"context"
	"errors"
	"time"

	"quizlab-service/internal/domain"
)

// BatchLimit caps how many answers one SaveAnswersBatch call may carry.
const BatchLimit = 10

// AnswerService is the answer ledger: it records a participant's selected
// option per question, overwriting rather than duplicating, and keeps the
// session's denormalized correct counter consistent via signed deltas.
type AnswerService struct {
	labs     LabStore
	sessions SessionStore
	answers  AnswerStore
	activity ActivityMarker
	now      func() time.Time
}

func NewAnswerService(labs LabStore, sessions SessionStore, answers AnswerStore) *AnswerService {
	return &AnswerService{
		labs:     labs,
		sessions: sessions,
		answers:  answers,
		now:      time.Now,
	}
}

// WithActivityMarker attaches a best-effort liveness tracker.
func (s *AnswerService) WithActivityMarker(m ActivityMarker) *AnswerService {
	s.activity = m
	return s
}

// WithClock is test-only for deterministic timestamps.
func (s *AnswerService) WithClock(now func() time.Time) *AnswerService {
	s.now = now
	return s
}

// AnswerSubmission is one (question, option) pair to record.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"selectedOptionId"`
}

// BatchError reports a single failed item of a batch without failing the rest.
type BatchError struct {
	QuestionID string `json:"questionId"`
	Message    string `json:"message"`
}

// BatchResult summarizes a partial-success batch write.
type BatchResult struct {
	Saved  int          `json:"savedCount"`
	Errors []BatchError `json:"errors"`
}

// SaveAnswer upserts the caller's answer for one question. Correctness is
// computed from the option at write time and frozen: later edits to the
// option do not re-grade recorded answers. Every call, changed or not,
// refreshes the session's lastActivity.
func (s *AnswerService) SaveAnswer(ctx context.Context, sessionID, questionID, optionID string, caller domain.Identity) error {
	session, err := s.authorize(ctx, sessionID, caller)
	if err != nil {
		return err
	}
	delta, err := s.writeAnswer(ctx, session, questionID, optionID)
	if err != nil {
		return err
	}
	return s.applySessionSideEffects(ctx, session, delta)
}

// SaveAnswersBatch applies up to BatchLimit answers for one session with the
// same per-item rules as SaveAnswer, collecting item errors instead of
// aborting: one bad question must not block the other nine.
func (s *AnswerService) SaveAnswersBatch(ctx context.Context, sessionID string, items []AnswerSubmission, caller domain.Identity) (BatchResult, error) {
	if len(items) > BatchLimit {
		return BatchResult{}, domain.ErrBatchTooLarge
	}
	session, err := s.authorize(ctx, sessionID, caller)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{}
	totalDelta := 0
	for _, item := range items {
		delta, err := s.writeAnswer(ctx, session, item.QuestionID, item.OptionID)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{
				QuestionID: item.QuestionID,
				Message:    err.Error(),
			})
			continue
		}
		totalDelta += delta
		result.Saved++
	}

	if err := s.applySessionSideEffects(ctx, session, totalDelta); err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

// authorize checks participant ownership and the in_progress state.
func (s *AnswerService) authorize(ctx context.Context, sessionID string, caller domain.Identity) (domain.Session, error) {
	if caller.UserID == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.UserID != caller.UserID {
		return domain.Session{}, domain.ErrForbidden
	}
	if session.Status != domain.SessionInProgress {
		return domain.Session{}, domain.ErrInvalidState
	}
	return session, nil
}

// writeAnswer validates the option, upserts the ledger row and returns the
// signed correctness delta (+1, -1 or 0) against the previous row.
func (s *AnswerService) writeAnswer(ctx context.Context, session domain.Session, questionID, optionID string) (int, error) {
	option, err := s.labs.GetOption(ctx, optionID)
	if err != nil {
		return 0, err
	}
	if option.QuestionID != questionID {
		return 0, domain.ErrValidation
	}

	now := domain.NowMillis(s.now())
	existing, ok, err := s.answers.GetAnswer(ctx, session.ID, questionID)
	if err != nil {
		return 0, err
	}

	answer := domain.Answer{
		SessionID:        session.ID,
		QuestionID:       questionID,
		SelectedOptionID: optionID,
		IsCorrect:        option.IsCorrect,
		AnsweredAt:       now,
	}

	delta := 0
	if ok {
		if existing.IsCorrect != option.IsCorrect {
			if option.IsCorrect {
				delta = 1
			} else {
				delta = -1
			}
		}
		if existing.SelectedOptionID == optionID && existing.IsCorrect == option.IsCorrect {
			// Idempotent repeat write: only the timestamp moves, the counter
			// must not double-count.
			answer.IsCorrect = existing.IsCorrect
		}
	} else if option.IsCorrect {
		delta = 1
	}

	if err := s.answers.PutAnswer(ctx, answer); err != nil {
		return 0, err
	}
	return delta, nil
}

// applySessionSideEffects adjusts the denormalized counter by the signed
// delta and always touches lastActivity, which monitoring reads as liveness.
func (s *AnswerService) applySessionSideEffects(ctx context.Context, session domain.Session, delta int) error {
	// Re-read the session so concurrent saves do not clobber each other's
	// counter adjustments more than necessary.
	fresh, err := s.sessions.GetSession(ctx, session.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidState
		}
		return err
	}
	fresh.CorrectAnswers += delta
	fresh.LastActivity = domain.NowMillis(s.now())
	if err := s.sessions.UpdateSession(ctx, fresh); err != nil {
		return err
	}
	if s.activity != nil {
		s.activity.Touch(ctx, fresh.LabID, fresh.ID)
	}
	return nil
}
