package app

import (
	"context"

	"quizlab-service/internal/domain"
)

// Store interfaces are declared here, at the point of consumption; the
// in-memory and postgres implementations satisfy all of them. Lookups return
// domain.ErrNotFound (possibly wrapped) when the entity does not exist.

// UserStore resolves and provisions accounts.
type UserStore interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserBySubject(ctx context.Context, subject string) (domain.User, error)
	// UpsertUserBySubject creates the user on first sight of a subject and
	// refreshes name/email afterwards.
	UpsertUserBySubject(ctx context.Context, user domain.User) (domain.User, error)
}

// LabStore persists labs, questions and options.
type LabStore interface {
	InsertLab(ctx context.Context, lab domain.Lab) error
	GetLab(ctx context.Context, id string) (domain.Lab, error)
	GetLabByCode(ctx context.Context, code string) (domain.Lab, error)
	UpdateLab(ctx context.Context, lab domain.Lab) error
	ListLabsByCreator(ctx context.Context, creatorID string) ([]domain.Lab, error)

	InsertQuestion(ctx context.Context, q domain.Question) error
	UpdateQuestion(ctx context.Context, q domain.Question) error
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	// ListQuestionsByLab returns questions ordered by Question.Order ascending.
	ListQuestionsByLab(ctx context.Context, labID string) ([]domain.Question, error)
	CountQuestionsByLab(ctx context.Context, labID string) (int, error)

	InsertOption(ctx context.Context, o domain.Option) error
	UpdateOption(ctx context.Context, o domain.Option) error
	GetOption(ctx context.Context, id string) (domain.Option, error)
	// ListOptionsByQuestion returns options ordered by Option.Order ascending.
	ListOptionsByQuestion(ctx context.Context, questionID string) ([]domain.Option, error)
}

// SessionStore persists participant attempts.
type SessionStore interface {
	InsertSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpdateSession(ctx context.Context, s domain.Session) error
	// FindInProgress returns the single in_progress session for (lab, user), if any.
	FindInProgress(ctx context.Context, labID, userID string) (domain.Session, bool, error)
	// CountAttempts counts all historical sessions for (lab, user), any status.
	CountAttempts(ctx context.Context, labID, userID string) (int, error)
	// ListSessionsByLab returns sessions ordered by LastActivity descending.
	ListSessionsByLab(ctx context.Context, labID string) ([]domain.Session, error)
}

// AnswerStore persists the answer ledger rows.
type AnswerStore interface {
	GetAnswer(ctx context.Context, sessionID, questionID string) (domain.Answer, bool, error)
	// PutAnswer inserts or overwrites the single row for (session, question).
	PutAnswer(ctx context.Context, a domain.Answer) error
	ListAnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
	ListAnswersByQuestion(ctx context.Context, questionID string) ([]domain.Answer, error)
}

// TaskStore persists the per-lab generation checkpoint record.
type TaskStore interface {
	UpsertTask(ctx context.Context, t domain.GenerationTask) error
	GetTask(ctx context.Context, labID string) (domain.GenerationTask, bool, error)
}

// CodeIndex resolves a normalized access code to a lab ID. Implementations may
// cache aggressively: callers always re-read the lab by ID afterwards, so a
// stale index entry can never leak a stale lab status.
type CodeIndex interface {
	LabIDByCode(ctx context.Context, code string) (string, error)
}

// ActivityMarker records best-effort session liveness for monitoring. Failures
// are swallowed by implementations; liveness is advisory.
type ActivityMarker interface {
	Touch(ctx context.Context, labID, sessionID string)
}

// LivenessReader reports how many sessions of a lab showed activity recently.
type LivenessReader interface {
	LiveCount(ctx context.Context, labID string) (int, error)
}

// assertLabOwner loads the lab and verifies the caller created it.
func assertLabOwner(ctx context.Context, labs LabStore, labID string, caller domain.Identity) (domain.Lab, error) {
	if caller.UserID == "" {
		return domain.Lab{}, domain.ErrUnauthorized
	}
	lab, err := labs.GetLab(ctx, labID)
	if err != nil {
		return domain.Lab{}, err
	}
	if lab.CreatorID != caller.UserID {
		return domain.Lab{}, domain.ErrForbidden
	}
	return lab, nil
}
