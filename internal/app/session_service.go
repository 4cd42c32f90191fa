package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"quizlab-service/internal/domain"
)

// SessionService owns the participant-attempt state machine:
// no session -> in_progress -> {completed, timeout, abandoned}. Completion via
// Submit is the only transition out of in_progress performed here; timeout and
// abandonment are patched directly by an external scheduler.
type SessionService struct {
	labs     LabStore
	sessions SessionStore
	answers  AnswerStore
	users    UserStore
	codes    CodeIndex
	activity ActivityMarker
	now      func() time.Time

	// startMu serializes new-session creation per (lab, user) so a racing
	// double-click cannot create two in_progress sessions.
	startMu keyedMutex
}

func NewSessionService(labs LabStore, sessions SessionStore, answers AnswerStore, users UserStore, codes CodeIndex) *SessionService {
	return &SessionService{
		labs:     labs,
		sessions: sessions,
		answers:  answers,
		users:    users,
		codes:    codes,
		now:      time.Now,
	}
}

// WithActivityMarker attaches a best-effort liveness tracker.
func (s *SessionService) WithActivityMarker(m ActivityMarker) *SessionService {
	s.activity = m
	return s
}

// WithClock is test-only for deterministic timestamps.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Preview is the non-mutating bundle returned for a resolved access code.
// Joinability is computed here, never enforced.
type Preview struct {
	LabID                string            `json:"labId"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	Topics               []string          `json:"topics"`
	Difficulty           domain.Difficulty `json:"difficultyLevel"`
	OwnerName            string            `json:"ownerName"`
	QuestionCount        int               `json:"questionCount"`
	MaxAttempts          int               `json:"maxAttempts"`
	AttemptsUsed         int               `json:"attemptsUsed"`
	EndTime              int64             `json:"endTime,omitempty"`
	TimeLimitMinutes     int               `json:"timeLimitMinutes,omitempty"`
	HasUnfinishedAttempt bool              `json:"hasUnfinishedAttempt"`
	CanStartNew          bool              `json:"canStartNew"`
}

// StartResult identifies the attempt a participant should continue with.
type StartResult struct {
	SessionID string `json:"sessionId"`
	LabID     string `json:"labId"`
}

// SubmitResult is the final immutable outcome of an attempt.
type SubmitResult struct {
	Score   int `json:"score"`
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// resolveLabByCode maps a raw code to a live lab. Unknown codes and closed
// labs are indistinguishable by design.
func (s *SessionService) resolveLabByCode(ctx context.Context, rawCode string) (domain.Lab, error) {
	code := domain.NormalizeAccessCode(rawCode)
	if code == "" {
		return domain.Lab{}, domain.ErrInvalidCode
	}
	labID, err := s.codes.LabIDByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Lab{}, domain.ErrInvalidCode
		}
		return domain.Lab{}, err
	}
	lab, err := s.labs.GetLab(ctx, labID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Lab{}, domain.ErrInvalidCode
		}
		return domain.Lab{}, err
	}
	if lab.Status == domain.LabClosed {
		return domain.Lab{}, domain.ErrInvalidCode
	}
	return lab, nil
}

// ResolveAccessCode returns the preview bundle for a code without mutating
// anything. The code does not have to be currently joinable.
func (s *SessionService) ResolveAccessCode(ctx context.Context, rawCode string, caller domain.Identity) (Preview, error) {
	if caller.UserID == "" {
		return Preview{}, domain.ErrUnauthorized
	}
	lab, err := s.resolveLabByCode(ctx, rawCode)
	if err != nil {
		return Preview{}, err
	}

	owner, err := s.users.GetUser(ctx, lab.CreatorID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Preview{}, err
	}
	attemptsUsed, err := s.sessions.CountAttempts(ctx, lab.ID, caller.UserID)
	if err != nil {
		return Preview{}, err
	}
	_, unfinished, err := s.sessions.FindInProgress(ctx, lab.ID, caller.UserID)
	if err != nil {
		return Preview{}, err
	}
	questionCount, err := s.labs.CountQuestionsByLab(ctx, lab.ID)
	if err != nil {
		return Preview{}, err
	}

	now := domain.NowMillis(s.now())
	canStart := attemptsUsed < lab.MaxAttempts &&
		(lab.EndTime == 0 || now <= lab.EndTime) &&
		(lab.StartTime == 0 || now >= lab.StartTime)

	return Preview{
		LabID:                lab.ID,
		Name:                 lab.Name,
		Description:          lab.Description,
		Topics:               lab.Topics,
		Difficulty:           lab.Difficulty,
		OwnerName:            owner.Name,
		QuestionCount:        questionCount,
		MaxAttempts:          lab.MaxAttempts,
		AttemptsUsed:         attemptsUsed,
		EndTime:              lab.EndTime,
		TimeLimitMinutes:     lab.TimeLimitMinutes,
		HasUnfinishedAttempt: unfinished,
		CanStartNew:          canStart,
	}, nil
}

// StartOrResume resumes the caller's in_progress session for the lab behind
// the code, or gates and creates a new attempt. Resume is idempotent: two
// consecutive calls with no intervening submit return the same session.
func (s *SessionService) StartOrResume(ctx context.Context, rawCode string, caller domain.Identity) (StartResult, error) {
	if caller.UserID == "" {
		return StartResult{}, domain.ErrUnauthorized
	}
	lab, err := s.resolveLabByCode(ctx, rawCode)
	if err != nil {
		return StartResult{}, err
	}

	unlock := s.startMu.lock(lab.ID + "/" + caller.UserID)
	defer unlock()

	// Resume first: at most one in_progress session exists per (lab, user).
	existing, ok, err := s.sessions.FindInProgress(ctx, lab.ID, caller.UserID)
	if err != nil {
		return StartResult{}, err
	}
	if ok {
		return StartResult{SessionID: existing.ID, LabID: lab.ID}, nil
	}

	now := domain.NowMillis(s.now())
	if lab.EndTime != 0 && now > lab.EndTime {
		return StartResult{}, domain.ErrPeriodEnded
	}

	attemptsUsed, err := s.sessions.CountAttempts(ctx, lab.ID, caller.UserID)
	if err != nil {
		return StartResult{}, err
	}
	if attemptsUsed >= lab.MaxAttempts {
		return StartResult{}, domain.ErrAttemptsExhausted
	}

	questionCount, err := s.labs.CountQuestionsByLab(ctx, lab.ID)
	if err != nil {
		return StartResult{}, err
	}

	session := domain.Session{
		ID:                   newID(),
		LabID:                lab.ID,
		UserID:               caller.UserID,
		AttemptNumber:        attemptsUsed + 1,
		Status:               domain.SessionInProgress,
		StartedAt:            now,
		TotalScore:           0,
		TotalQuestions:       questionCount,
		CorrectAnswers:       0,
		CurrentQuestionOrder: 0,
		LastActivity:         now,
	}
	if err := s.sessions.InsertSession(ctx, session); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a cross-instance race: another server created the attempt
			// between our FindInProgress and the insert. Resume theirs.
			winner, ok, ferr := s.sessions.FindInProgress(ctx, lab.ID, caller.UserID)
			if ferr != nil {
				return StartResult{}, ferr
			}
			if ok {
				return StartResult{SessionID: winner.ID, LabID: lab.ID}, nil
			}
		}
		return StartResult{}, err
	}
	s.touch(ctx, lab.ID, session.ID)
	return StartResult{SessionID: session.ID, LabID: lab.ID}, nil
}

// Advance records the participant's current position for resume and
// monitoring. Only the session's participant may advance, and only while the
// session is in_progress.
func (s *SessionService) Advance(ctx context.Context, sessionID string, order int, caller domain.Identity) error {
	session, err := s.ownedActiveSession(ctx, sessionID, caller)
	if err != nil {
		return err
	}
	if order < 0 {
		return domain.ErrValidation
	}
	session.CurrentQuestionOrder = order
	session.LastActivity = domain.NowMillis(s.now())
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	s.touch(ctx, session.LabID, session.ID)
	return nil
}

// Submit finalizes an in_progress session into an immutable scored result.
// CorrectAnswers is recomputed from the full answer scan rather than trusting
// the incrementally maintained counter, healing any drift from retried or
// duplicated writes.
func (s *SessionService) Submit(ctx context.Context, sessionID string, caller domain.Identity) (SubmitResult, error) {
	session, err := s.ownedActiveSession(ctx, sessionID, caller)
	if err != nil {
		return SubmitResult{}, err
	}

	answers, err := s.answers.ListAnswersBySession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	correct := 0
	for _, a := range answers {
		if a.IsCorrect {
			correct++
		}
	}

	total := session.TotalQuestions
	if total == 0 {
		// The snapshot can be zero when generation finished after the attempt
		// started; fall back to the live question count.
		total, err = s.labs.CountQuestionsByLab(ctx, session.LabID)
		if err != nil {
			return SubmitResult{}, err
		}
	}
	score := 0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
	}

	now := domain.NowMillis(s.now())
	session.Status = domain.SessionCompleted
	session.CompletedAt = now
	session.LastActivity = now
	session.CorrectAnswers = correct
	session.TotalScore = score
	if total > 0 && session.CurrentQuestionOrder > total-1 {
		session.CurrentQuestionOrder = total - 1
	}
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Score: score, Correct: correct, Total: total}, nil
}

// ownedActiveSession loads a session and enforces participant ownership and
// the in_progress state.
func (s *SessionService) ownedActiveSession(ctx context.Context, sessionID string, caller domain.Identity) (domain.Session, error) {
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

func (s *SessionService) touch(ctx context.Context, labID, sessionID string) {
	if s.activity != nil {
		s.activity.Touch(ctx, labID, sessionID)
	}
}

// keyedMutex hands out one mutex per key. Keys are never removed; the set of
// (lab, user) pairs active in one process stays small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
