package app_test

import (
	"context"
	"errors"
	"testing"

	"quizlab-service/internal/app"
	"quizlab-service/internal/domain"
)

func startSession(t *testing.T, f fixture) string {
	t.Helper()
	started, err := f.sessions.StartOrResume(context.Background(), "LAB123", student)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started.SessionID
}

func TestSaveAnswerOverwritesAndAdjustsCounter(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-wrong", student); err != nil {
		t.Fatalf("save wrong: %v", err)
	}
	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", student); err != nil {
		t.Fatalf("save right: %v", err)
	}

	answer, ok, err := f.store.GetAnswer(ctx, sessionID, "q1")
	if err != nil || !ok {
		t.Fatalf("get answer: ok=%v err=%v", ok, err)
	}
	if answer.SelectedOptionID != "q1-right" || !answer.IsCorrect {
		t.Fatalf("expected overwritten answer, got %+v", answer)
	}

	all, err := f.store.ListAnswersBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(all))
	}

	sess, _ := f.store.GetSession(ctx, sessionID)
	if sess.CorrectAnswers != 1 {
		t.Fatalf("expected counter 1, got %d", sess.CorrectAnswers)
	}

	// Flip back to wrong: counter must come down, not drift.
	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-wrong", student); err != nil {
		t.Fatalf("save wrong again: %v", err)
	}
	sess, _ = f.store.GetSession(ctx, sessionID)
	if sess.CorrectAnswers != 0 {
		t.Fatalf("expected counter 0, got %d", sess.CorrectAnswers)
	}
}

func TestSaveAnswerIdempotentRepeat(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	for i := 0; i < 3; i++ {
		if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", student); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	sess, _ := f.store.GetSession(ctx, sessionID)
	if sess.CorrectAnswers != 1 {
		t.Fatalf("repeat writes double-counted: %d", sess.CorrectAnswers)
	}
}

func TestAnswerCorrectnessFrozenAtWriteTime(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", student); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The owner edits the option after the answer was graded.
	option, _ := f.store.GetOption(ctx, "q1-right")
	option.IsCorrect = false
	if err := f.store.UpdateOption(ctx, option); err != nil {
		t.Fatalf("update option: %v", err)
	}

	answer, _, _ := f.store.GetAnswer(ctx, sessionID, "q1")
	if !answer.IsCorrect {
		t.Fatalf("recorded answer was re-graded")
	}
}

func TestSaveAnswerRejectsMismatchedOption(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q2-right", student)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSaveAnswerAuthorization(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", domain.Identity{UserID: "creator"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", domain.Identity{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if _, err := f.sessions.Submit(ctx, sessionID, student); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.answers.SaveAnswer(ctx, sessionID, "q1", "q1-right", student); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after submit, got %v", err)
	}
}

func TestSaveAnswersBatchPartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	result, err := f.answers.SaveAnswersBatch(ctx, sessionID, []app.AnswerSubmission{
		{QuestionID: "q1", OptionID: "q1-right"},
		{QuestionID: "q2", OptionID: "q2-right"},
		{QuestionID: "q3", OptionID: "q1-wrong"}, // option belongs to q1
	}, student)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.Saved != 2 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Errors[0].QuestionID != "q3" {
		t.Fatalf("expected error for q3, got %+v", result.Errors[0])
	}

	sess, _ := f.store.GetSession(ctx, sessionID)
	if sess.CorrectAnswers != 2 {
		t.Fatalf("expected counter 2, got %d", sess.CorrectAnswers)
	}
}

func TestSaveAnswersBatchCap(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	items := make([]app.AnswerSubmission, app.BatchLimit+1)
	for i := range items {
		items[i] = app.AnswerSubmission{QuestionID: "q1", OptionID: "q1-right"}
	}
	if _, err := f.answers.SaveAnswersBatch(ctx, sessionID, items, student); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestSaveAnswersBatchRepeatedQuestionNetsDelta(t *testing.T) {
	ctx := context.Background()
	f := seedLab(t, 1)
	sessionID := startSession(t, f)

	// The same question twice in one batch: each item's delta comes from the
	// stored ledger row, so wrong-then-right nets out to a single increment.
	result, err := f.answers.SaveAnswersBatch(ctx, sessionID, []app.AnswerSubmission{
		{QuestionID: "q1", OptionID: "q1-wrong"},
		{QuestionID: "q1", OptionID: "q1-right"},
		{QuestionID: "q2", OptionID: "q2-right"},
	}, student)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if result.Saved != 3 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	sess, _ := f.store.GetSession(ctx, sessionID)
	if sess.CorrectAnswers != 2 {
		t.Fatalf("expected counter 2, got %d", sess.CorrectAnswers)
	}
	answer, ok, _ := f.store.GetAnswer(ctx, sessionID, "q1")
	if !ok || answer.SelectedOptionID != "q1-right" || !answer.IsCorrect {
		t.Fatalf("expected last write to win: %+v", answer)
	}
}
