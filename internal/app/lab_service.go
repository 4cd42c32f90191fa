package app

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"quizlab-service/internal/domain"
)

// GenerationStarter triggers the background question-generation workflow.
// Start is fire-and-forget; progress is observed by polling the task record.
type GenerationStarter interface {
	Start(labID string)
}

// GenerationStatusReader polls the single progress record of a generation run.
type GenerationStatusReader interface {
	Status(ctx context.Context, labID string) (domain.GenerationTask, bool, error)
}

// LabService owns the creator-facing lab surface: configuration, lifecycle,
// and manual question edits. All mutations verify ownership first.
type LabService struct {
	labs      LabStore
	users     UserStore
	generator GenerationStarter
	progress  GenerationStatusReader
	limiter   Limiter
	now       func() time.Time
	rnd       *rand.Rand
}

func NewLabService(labs LabStore, users UserStore) *LabService {
	return &LabService{
		labs:  labs,
		users: users,
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithGeneration attaches the workflow trigger fired on lab creation.
func (s *LabService) WithGeneration(g GenerationStarter) *LabService {
	s.generator = g
	return s
}

// WithGenerationStatus attaches the progress poller behind GenerationStatus.
func (s *LabService) WithGenerationStatus(r GenerationStatusReader) *LabService {
	s.progress = r
	return s
}

// WithLimiter attaches the owner-mutation throttle.
func (s *LabService) WithLimiter(l Limiter) *LabService {
	s.limiter = l
	return s
}

// CreateLabArgs carries the creation form. Everything else gets defaults.
type CreateLabArgs struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Topics       []string           `json:"topics"`
	Difficulty   domain.Difficulty  `json:"difficultyLevel"`
	QuestionSize int                `json:"questionSize"`
	Role         domain.CreatorRole `json:"createdAsRole"`
}

// CreateLab inserts a draft lab with a fresh unique access code and kicks off
// question generation in the background.
func (s *LabService) CreateLab(ctx context.Context, args CreateLabArgs, caller domain.Identity) (domain.Lab, error) {
	if caller.UserID == "" {
		return domain.Lab{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(args.Name) == "" || !args.Difficulty.Valid() || args.QuestionSize <= 0 || len(args.Topics) == 0 {
		return domain.Lab{}, domain.ErrValidation
	}
	role := args.Role
	if role == "" {
		role = domain.RoleTeacher
	}

	code, err := s.uniqueAccessCode(ctx)
	if err != nil {
		return domain.Lab{}, err
	}

	lab := domain.Lab{
		ID:            newID(),
		CreatorID:     caller.UserID,
		Name:          args.Name,
		Description:   args.Description,
		Topics:        args.Topics,
		Difficulty:    args.Difficulty,
		QuestionSize:  args.QuestionSize,
		AccessCode:    code,
		Status:        domain.LabDraft,
		MaxAttempts:   1,
		CreatedAsRole: role,
		CreatedAt:     s.now(),
	}
	if err := s.labs.InsertLab(ctx, lab); err != nil {
		return domain.Lab{}, err
	}
	if s.generator != nil {
		s.generator.Start(lab.ID)
	}
	return lab, nil
}

// uniqueAccessCode retries generation until the code is unclaimed. Collisions
// are rare; the loop is bounded to keep a broken store from spinning forever.
func (s *LabService) uniqueAccessCode(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		code := domain.GenerateAccessCode(s.rnd)
		_, err := s.labs.GetLabByCode(ctx, code)
		if errors.Is(err, domain.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("could not allocate a unique access code")
}

// UpdateLabSettingsArgs mirrors the settings form. The access code is absent
// on purpose: it is immutable once issued.
type UpdateLabSettingsArgs struct {
	Name                       string            `json:"name"`
	Description                string            `json:"description"`
	Topics                     []string          `json:"topics"`
	Difficulty                 domain.Difficulty `json:"difficultyLevel"`
	QuestionSize               int               `json:"questionSize"`
	RandomizeQuestions         bool              `json:"isRandomizeQuestions"`
	RandomizeOptions           bool              `json:"isRandomizeOptions"`
	MaxAttempts                int               `json:"maxAttempts"`
	TimeLimitMinutes           int               `json:"timeLimitMinutes"`
	StartTime                  int64             `json:"startTime"`
	EndTime                    int64             `json:"endTime"`
	ShowResultsAfterSubmission bool              `json:"showResultsAfterSubmission"`
	AllowReviewAnswers         bool              `json:"allowReviewAnswers"`
}

// UpdateLabSettings overwrites the mutable configuration of an owned lab.
// Throttled per owner; rejected calls carry a retry-after hint.
func (s *LabService) UpdateLabSettings(ctx context.Context, labID string, args UpdateLabSettingsArgs, caller domain.Identity) (domain.Lab, error) {
	if s.limiter != nil {
		if retryAfter, ok := s.limiter.Allow("updateLab:" + caller.UserID); !ok {
			return domain.Lab{}, &domain.RateLimitedError{RetryAfter: retryAfter}
		}
	}
	lab, err := assertLabOwner(ctx, s.labs, labID, caller)
	if err != nil {
		return domain.Lab{}, err
	}
	if strings.TrimSpace(args.Name) == "" || !args.Difficulty.Valid() || args.MaxAttempts < 1 {
		return domain.Lab{}, domain.ErrValidation
	}

	lab.Name = args.Name
	lab.Description = args.Description
	lab.Topics = args.Topics
	lab.Difficulty = args.Difficulty
	lab.QuestionSize = args.QuestionSize
	lab.RandomizeQuestions = args.RandomizeQuestions
	lab.RandomizeOptions = args.RandomizeOptions
	lab.MaxAttempts = args.MaxAttempts
	lab.TimeLimitMinutes = args.TimeLimitMinutes
	lab.StartTime = args.StartTime
	lab.EndTime = args.EndTime
	lab.ShowResultsAfterSubmission = args.ShowResultsAfterSubmission
	lab.AllowReviewAnswers = args.AllowReviewAnswers

	if err := s.labs.UpdateLab(ctx, lab); err != nil {
		return domain.Lab{}, err
	}
	return lab, nil
}

// PublishLab moves a draft lab to published so participants can join.
func (s *LabService) PublishLab(ctx context.Context, labID string, caller domain.Identity) (domain.Lab, error) {
	return s.transition(ctx, labID, caller, domain.LabDraft, domain.LabPublished)
}

// CloseLab retires a published lab. Its access code stops resolving.
func (s *LabService) CloseLab(ctx context.Context, labID string, caller domain.Identity) (domain.Lab, error) {
	return s.transition(ctx, labID, caller, domain.LabPublished, domain.LabClosed)
}

func (s *LabService) transition(ctx context.Context, labID string, caller domain.Identity, from, to domain.LabStatus) (domain.Lab, error) {
	lab, err := assertLabOwner(ctx, s.labs, labID, caller)
	if err != nil {
		return domain.Lab{}, err
	}
	if lab.Status != from {
		return domain.Lab{}, domain.ErrInvalidState
	}
	lab.Status = to
	if err := s.labs.UpdateLab(ctx, lab); err != nil {
		return domain.Lab{}, err
	}
	return lab, nil
}

// ListLabsByCreator returns the caller's labs.
func (s *LabService) ListLabsByCreator(ctx context.Context, caller domain.Identity) ([]domain.Lab, error) {
	if caller.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.labs.ListLabsByCreator(ctx, caller.UserID)
}

// GenerationStatus returns the lab's latest generation checkpoint. Owner only;
// ok is false when generation was never started for the lab.
func (s *LabService) GenerationStatus(ctx context.Context, labID string, caller domain.Identity) (domain.GenerationTask, bool, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return domain.GenerationTask{}, false, err
	}
	if s.progress == nil {
		return domain.GenerationTask{}, false, nil
	}
	return s.progress.Status(ctx, labID)
}

// QuestionWithOptions pairs a question with its ordered options.
type QuestionWithOptions struct {
	domain.Question
	Options []domain.Option `json:"options"`
}

// LabWithQuestions is the owner's editing view.
type LabWithQuestions struct {
	Lab       domain.Lab            `json:"lab"`
	Questions []QuestionWithOptions `json:"questions"`
}

// GetLabWithQuestions returns the owned lab with its questions and options in
// display order.
func (s *LabService) GetLabWithQuestions(ctx context.Context, labID string, caller domain.Identity) (LabWithQuestions, error) {
	lab, err := assertLabOwner(ctx, s.labs, labID, caller)
	if err != nil {
		return LabWithQuestions{}, err
	}
	questions, err := s.labs.ListQuestionsByLab(ctx, labID)
	if err != nil {
		return LabWithQuestions{}, err
	}
	out := LabWithQuestions{Lab: lab}
	for _, q := range questions {
		opts, err := s.labs.ListOptionsByQuestion(ctx, q.ID)
		if err != nil {
			return LabWithQuestions{}, err
		}
		out.Questions = append(out.Questions, QuestionWithOptions{Question: q, Options: opts})
	}
	return out, nil
}

// NewOption is the shape accepted for manual question edits.
type NewOption struct {
	Text      string `json:"optionText"`
	IsCorrect bool   `json:"isCorrect"`
}

// AddQuestion appends a question (with options) after the lab's current last
// order. Manual additions follow the same shape the generator persists.
func (s *LabService) AddQuestion(ctx context.Context, labID, text, explanation string, options []NewOption, caller domain.Identity) (domain.Question, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return domain.Question{}, err
	}
	if strings.TrimSpace(text) == "" || len(options) == 0 {
		return domain.Question{}, domain.ErrValidation
	}

	count, err := s.labs.CountQuestionsByLab(ctx, labID)
	if err != nil {
		return domain.Question{}, err
	}
	question := domain.Question{
		ID:          newID(),
		LabID:       labID,
		Text:        text,
		Explanation: explanation,
		Order:       count,
	}
	if err := s.labs.InsertQuestion(ctx, question); err != nil {
		return domain.Question{}, err
	}
	for i, o := range options {
		opt := domain.Option{
			ID:         newID(),
			QuestionID: question.ID,
			Text:       o.Text,
			Order:      i,
			IsCorrect:  o.IsCorrect,
		}
		if err := s.labs.InsertOption(ctx, opt); err != nil {
			return domain.Question{}, err
		}
	}
	return question, nil
}

// ReorderQuestions rewrites the display order of all questions in a lab. The
// submitted list must be a permutation of the lab's question IDs.
func (s *LabService) ReorderQuestions(ctx context.Context, labID string, orderedIDs []string, caller domain.Identity) error {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return err
	}
	questions, err := s.labs.ListQuestionsByLab(ctx, labID)
	if err != nil {
		return err
	}
	if len(orderedIDs) != len(questions) {
		return domain.ErrValidation
	}
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for i, id := range orderedIDs {
		q, ok := byID[id]
		if !ok {
			return domain.ErrValidation
		}
		if q.Order == i {
			continue
		}
		q.Order = i
		if err := s.labs.UpdateQuestion(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOption edits one option's text or correctness. Previously recorded
// answers keep the correctness they were graded with; only Submit's recompute
// and future writes see the edit.
func (s *LabService) UpdateOption(ctx context.Context, optionID, text string, isCorrect bool, caller domain.Identity) (domain.Option, error) {
	if caller.UserID == "" {
		return domain.Option{}, domain.ErrUnauthorized
	}
	option, err := s.labs.GetOption(ctx, optionID)
	if err != nil {
		return domain.Option{}, err
	}
	question, err := s.labs.GetQuestion(ctx, option.QuestionID)
	if err != nil {
		return domain.Option{}, err
	}
	if _, err := assertLabOwner(ctx, s.labs, question.LabID, caller); err != nil {
		return domain.Option{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Option{}, domain.ErrValidation
	}
	option.Text = text
	option.IsCorrect = isCorrect
	if err := s.labs.UpdateOption(ctx, option); err != nil {
		return domain.Option{}, err
	}
	return option, nil
}
